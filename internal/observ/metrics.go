package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)]++
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus summarizes engine health for operators and the dashboard.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the handful of numbers worth alerting on.
type HealthMetrics struct {
	CyclesTotal        int64   `json:"cycles_total"`
	CycleFailures      int64   `json:"cycle_failures_total"`
	CycleSuccessRate   float64 `json:"cycle_success_rate"`
	CycleLatencyP95Ms  int64   `json:"cycle_latency_p95_ms"`
	BreakerState       float64 `json:"breaker_state"` // 0 closed, 1 open
	QuarantinedAssets  float64 `json:"quarantined_assets"`
	TradesExecuted     int64   `json:"trades_executed_total"`
	TradeFailures      int64   `json:"trade_failures_total"`
	APIBudgetRemaining float64 `json:"api_budget_remaining_pct"`
}

var (
	startTime = time.Now()
	version   = "dev" // set via build flags
)

func SetVersion(v string) {
	version = v
}

// HealthHandler reports degraded above 10% cycle failures and failed while
// the breaker is open; the engine keeps running either way, this is for
// operators watching from outside.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		m := healthMetricsLocked()
		status := "healthy"
		if m.CyclesTotal > 10 && m.CycleSuccessRate < 0.9 {
			status = "degraded"
		}
		if m.BreakerState > 0 {
			status = "failed"
		}

		statusCode := http.StatusOK
		switch status {
		case "degraded":
			statusCode = http.StatusPartialContent
		case "failed":
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   m,
		})
	})
}

func healthMetricsLocked() HealthMetrics {
	m := HealthMetrics{}

	m.CyclesTotal = sumCounter("cycles_total")
	m.CycleFailures = sumCounter("cycle_failures_total")
	if m.CyclesTotal > 0 {
		m.CycleSuccessRate = float64(m.CyclesTotal-m.CycleFailures) / float64(m.CyclesTotal)
	}
	m.CycleLatencyP95Ms = int64(histP95("cycle_latency_ms"))
	m.BreakerState = firstGauge("breaker_open")
	m.QuarantinedAssets = firstGauge("quarantined_assets")
	m.TradesExecuted = sumCounter("trades_executed_total")
	m.TradeFailures = sumCounter("trade_failures_total")
	m.APIBudgetRemaining = firstGauge("api_budget_remaining_pct")

	return m
}

func sumCounter(name string) int64 {
	var total int64
	for _, count := range reg.counters[name] {
		total += count
	}
	return total
}

func firstGauge(name string) float64 {
	for _, v := range reg.gauges[name] {
		return v
	}
	return 0
}

func histP95(name string) float64 {
	for _, samples := range reg.hist[name] {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return 0
}
