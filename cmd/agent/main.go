package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradekit/portfolio-agent/internal/config"
	"github.com/tradekit/portfolio-agent/internal/engine"
	"github.com/tradekit/portfolio-agent/internal/observ"
	"github.com/tradekit/portfolio-agent/internal/recall"
	"github.com/tradekit/portfolio-agent/internal/registry"
	"github.com/tradekit/portfolio-agent/internal/report"
)

const version = "0.3.0"

func main() {
	var (
		cfgPath      string
		registryPath string
		durationSec  int
		intervalSec  int
	)
	flag.StringVar(&cfgPath, "config", "", "config path (yaml); defaults apply when empty")
	flag.StringVar(&registryPath, "registry", "", "token registry path (yaml); built-in set when empty")
	flag.IntVar(&durationSec, "duration", 0, "stop after this many seconds")
	flag.IntVar(&intervalSec, "interval", 0, "poll interval in seconds (overrides config)")

	// The verb comes first so flags may follow it; flag.Parse stops at the
	// first non-flag argument otherwise.
	args := os.Args[1:]
	verb := "start"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		verb = args[0]
		args = args[1:]
	}
	_ = flag.CommandLine.Parse(args)

	_ = godotenv.Load()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fatal("config_load_failed", err)
	}
	applyEnv(&cfg)
	if registryPath != "" {
		cfg.RegistryPath = registryPath
	}
	if intervalSec > 0 {
		cfg.PollIntervalSec = intervalSec
	}

	switch verb {
	case "status":
		if err := printStatus(cfg); err != nil {
			fatal("status_failed", err)
		}
		return
	case "start", "once":
	default:
		fmt.Fprintf(os.Stderr, "usage: agent [start|once|status] [flags]\n")
		os.Exit(2)
	}

	apiKey := os.Getenv("RECALL_API_KEY")
	if apiKey == "" {
		fatal("startup_failed", fmt.Errorf("RECALL_API_KEY is not set"))
	}

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		fatal("registry_load_failed", err)
	}

	client, err := recall.NewClient(recall.Config{
		BaseURL:       cfg.Recall.BaseURL,
		APIKey:        apiKey,
		Timeout:       time.Duration(cfg.Recall.TimeoutMs) * time.Millisecond,
		QuoteTimeout:  time.Duration(cfg.Recall.QuoteTimeoutMs) * time.Millisecond,
		RatePerSecond: cfg.Recall.RatePerSecond,
	})
	if err != nil {
		fatal("client_init_failed", err)
	}

	sink, closeSinks, err := buildSinks(cfg)
	if err != nil {
		fatal("sink_init_failed", err)
	}
	defer closeSinks()

	observ.SetVersion(version)
	eng := engine.New(cfg, client, reg, sink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if durationSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(durationSec)*time.Second)
		defer cancel()
	}

	observ.Log("agent_started", map[string]any{
		"version": version,
		"verb":    verb,
		"listen":  cfg.ListenAddr,
		"dry_run": cfg.DryRun,
	})

	if verb == "once" {
		if err := eng.RunCycle(ctx); err != nil {
			fatal("cycle_failed", err)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Status())
	})
	go func() {
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			observ.Error("http_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	if err := eng.Run(ctx); err != nil {
		fatal("engine_failed", err)
	}
}

func loadConfig(path string) (config.Root, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyEnv lets deployment environments override the file without editing it.
func applyEnv(cfg *config.Root) {
	if v := os.Getenv("RECALL_BASE_URL"); v != "" {
		cfg.Recall.BaseURL = v
	}
	if v := os.Getenv("GLOBAL_PAUSE"); v != "" {
		cfg.GlobalPause = v == "true"
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = v == "true"
	}
}

// printStatus queries a running agent's /status endpoint.
func printStatus(cfg config.Root) error {
	addr := cfg.ListenAddr
	if addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func buildSinks(cfg config.Root) (report.Sink, func(), error) {
	sinks := report.Multi{report.NewLogSink()}

	if cfg.Report.JSONLPath != "" {
		js, err := report.NewJSONLSink(cfg.Report.JSONLPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, js)
	}
	if cfg.Report.SQLitePath != "" {
		db, err := report.NewSQLiteSink(cfg.Report.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
	}

	return sinks, func() { _ = sinks.Close() }, nil
}

func fatal(event string, err error) {
	observ.Error(event, map[string]any{"error": err.Error()})
	os.Exit(1)
}
