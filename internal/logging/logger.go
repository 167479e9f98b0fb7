package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	component string
	level     string
	turnID    string
	traceID   string
	spanID    string
	now       func() time.Time
}

// WithComponent sets the component field used in emitted log records.
func WithComponent(component string) Option {
	return func(opts *newOptions) {
		opts.component = strings.TrimSpace(component)
	}
}

// WithLevel sets the minimum level. Unknown values fall back to info.
func WithLevel(level string) Option {
	return func(opts *newOptions) {
		opts.level = strings.TrimSpace(level)
	}
}

// WithTurnID configures the turn_id field used in emitted log records.
func WithTurnID(turnID string) Option {
	return func(opts *newOptions) {
		opts.turnID = strings.TrimSpace(turnID)
	}
}

// WithTraceID configures the trace_id field used in emitted log records.
func WithTraceID(traceID string) Option {
	return func(opts *newOptions) {
		opts.traceID = strings.TrimSpace(traceID)
	}
}

// WithSpanID configures the span_id field used in emitted log records.
func WithSpanID(spanID string) Option {
	return func(opts *newOptions) {
		opts.spanID = strings.TrimSpace(spanID)
	}
}

func withClock(now func() time.Time) Option {
	return func(opts *newOptions) {
		opts.now = now
	}
}

// RuntimeLogger writes structured JSON logs to a per-day file.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	component  string
	turnID     string
	traceID    string
	spanID     string
}

// New initializes logging under dir without writing to stdout. Stdout stays reserved
// for the line protocols served by the bridge and the MCP server.
func New(ctx context.Context, dir string, options ...Option) (*RuntimeLogger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("log directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	resolved := resolveOptions(options)
	fileName := fmt.Sprintf("mascot-%s.log", resolved.now().Format("2006-01-02"))
	filePath := filepath.Join(dir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	runtimeLogger := newRuntimeLogger(file, resolved)
	runtimeLogger.file = file
	runtimeLogger.path = filePath
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")

	_ = ctx
	return runtimeLogger, nil
}

// NewWriter builds a RuntimeLogger around an arbitrary writer. The caller owns w.
func NewWriter(w io.Writer, options ...Option) *RuntimeLogger {
	return newRuntimeLogger(w, resolveOptions(options))
}

// Discard returns a logger that drops every record.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func newRuntimeLogger(w io.Writer, resolved newOptions) *RuntimeLogger {
	logger := log.NewWithOptions(w, log.Options{
		Level:           parseLevel(resolved.level),
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		baseLogger: logger,
		component:  resolved.component,
		turnID:     resolved.turnID,
		traceID:    resolved.traceID,
		spanID:     resolved.spanID,
	}
	runtimeLogger.rebuildLogger()
	return runtimeLogger
}

// WithTurnID updates the turn_id field for subsequent log records.
func (r *RuntimeLogger) WithTurnID(turnID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.turnID = strings.TrimSpace(turnID)
	r.rebuildLogger()
	return r
}

// WithTraceID updates the trace_id field for subsequent log records.
func (r *RuntimeLogger) WithTraceID(traceID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.traceID = strings.TrimSpace(traceID)
	r.rebuildLogger()
	return r
}

// WithSpanID updates the span_id field for subsequent log records.
func (r *RuntimeLogger) WithSpanID(spanID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.spanID = strings.TrimSpace(spanID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	fields := make([]any, 0, 8)
	if r.component != "" {
		fields = append(fields, "component", r.component)
	}
	if r.turnID != "" {
		fields = append(fields, "turn_id", r.turnID)
	}
	if r.traceID != "" {
		fields = append(fields, "trace_id", r.traceID)
	}
	if r.spanID != "" {
		fields = append(fields, "span_id", r.spanID)
	}
	r.Logger = r.baseLogger.With(fields...)
}

func parseLevel(value string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{now: time.Now}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
