package observ

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// One JSON object per line on stdout. The dashboard and the log shipper
// both key off the "event" field, so event names are stable identifiers.
func Log(event string, kv map[string]any) {
	logAt("info", event, kv)
}

func Warn(event string, kv map[string]any) {
	logAt("warn", event, kv)
}

func Error(event string, kv map[string]any) {
	logAt("error", event, kv)
}

func logAt(level, event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["level"] = level
	kv["event"] = event
	b, err := json.Marshal(kv)
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"event":"log_marshal_error","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Println(string(b))
}
