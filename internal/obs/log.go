// Package obs carries the service's operational surface: a JSON-line logger
// shared by every component and the Prometheus instrumentation for the HTTP
// stack and the auth-domain counters.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. Every line it emits is a single
// JSON object, so log shippers need no multiline handling.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON line from the given fields.
func LogRequest(fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogError emits an error-level line with the given message and fields.
func LogError(msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = "error"
	entry["msg"] = msg
	LogRequest(entry)
}
