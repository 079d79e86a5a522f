package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// SimpleLogger is the default Logger/ComponentAwareLogger implementation,
// backed by the standard library log package. It supports both structured
// JSON output (for production, machine-parsed logs) and a human-readable
// text format (for local development).
type SimpleLogger struct {
	level     string
	format    string
	service   string
	component string
	out       *log.Logger
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// NewSimpleLogger constructs a SimpleLogger writing to stderr.
func NewSimpleLogger(level, format, service string) *SimpleLogger {
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	return &SimpleLogger{
		level:   level,
		format:  format,
		service: service,
		out:     log.New(os.Stderr, "", 0),
	}
}

func (l *SimpleLogger) WithComponent(component string) Logger {
	return &SimpleLogger{
		level:     l.level,
		format:    l.format,
		service:   l.service,
		component: component,
		out:       l.out,
	}
}

func (l *SimpleLogger) enabled(level string) bool {
	return levelRank[level] >= levelRank[l.level]
}

func (l *SimpleLogger) log(level, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	if l.format == "json" {
		entry := map[string]interface{}{
			"time":    time.Now().UTC().Format(time.RFC3339Nano),
			"level":   level,
			"service": l.service,
			"msg":     msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		b, err := json.Marshal(entry)
		if err != nil {
			l.out.Printf("level=%s msg=%q marshal_error=%v", level, msg, err)
			return
		}
		l.out.Println(string(b))
		return
	}

	line := fmt.Sprintf("[%s] %-5s", time.Now().Format("15:04:05.000"), level)
	if l.component != "" {
		line += " " + l.component
	}
	line += " " + msg
	for k, v := range fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	l.out.Println(line)
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }
func (l *SimpleLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if id := TraceIDFromContext(ctx); id != "" {
		out["trace_id"] = id
	}
	return out
}

func (l *SimpleLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("info", msg, withTraceFields(ctx, fields))
}
func (l *SimpleLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("error", msg, withTraceFields(ctx, fields))
}
func (l *SimpleLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("warn", msg, withTraceFields(ctx, fields))
}
func (l *SimpleLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("debug", msg, withTraceFields(ctx, fields))
}

type traceIDKey struct{}

// ContextWithTraceID attaches a correlation id to ctx for log enrichment.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext retrieves a correlation id attached by ContextWithTraceID.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}
