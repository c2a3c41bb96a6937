// Package log is the structured logger used across the server. It wraps
// log/slog behind a small interface that always takes a context, so trace
// ids ride along with every record and handlers can pull a request-scoped
// logger with FromContext.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	BuildId string

	Level slog.Level
	// records at or above this level get a "stack" attribute
	StacktraceLevel slog.Level
	JsonFormat      bool

	// error_links lists where each wrap in an error chain happened
	IncludeErrorLinks bool
	MaxErrorLinks     int // default 8

	Writer io.Writer // default os.Stdout
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}
