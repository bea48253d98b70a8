// Package logging writes process-level events as one JSON object per line.
// Request logs are produced separately by middleware.Logger.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger emits structured JSON lines to a writer.
// It is safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location
}

// New returns a Logger writing to w with timestamps in loc.
// A nil loc means UTC.
func New(w io.Writer, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.UTC
	}
	return &Logger{w: w, loc: loc}
}

var std = New(os.Stdout, time.UTC)

// Default returns the package-level logger writing to stdout.
func Default() *Logger { return std }

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) { std = l }

// Info logs an informational event.
func (l *Logger) Info(msg string, fields map[string]any) {
	l.write("info", msg, fields)
}

// Error logs a failure; err is attached under the "error" key when non-nil.
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	payload := cloneFields(fields)
	if err != nil {
		payload["error"] = err.Error()
	}
	l.write("error", msg, payload)
}

func (l *Logger) write(level, msg string, fields map[string]any) {
	entry := cloneFields(fields)
	entry["ts"] = time.Now().In(l.loc).Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg

	b, err := json.Marshal(entry)
	if err != nil {
		b, _ = json.Marshal(map[string]any{
			"ts":    time.Now().In(l.loc).Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "log_marshal_failed",
			"error": err.Error(),
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(b, '\n'))
}

func cloneFields(fields map[string]any) map[string]any {
	payload := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}
