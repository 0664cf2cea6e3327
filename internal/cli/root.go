// Package cli implements the eidolon command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit code alongside the message: 1 for
// pipeline errors, 2 for security rejections, 3 for configuration errors.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// exitErrorf builds an ExitError with a formatted message.
func exitErrorf(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RootOptions holds the global flags shared by every command.
type RootOptions struct {
	LogLevel  string
	LogFormat string
	OutW      io.Writer
}

// NewRootCommand creates the eidolon root command.
func NewRootCommand(outW io.Writer) *cobra.Command {
	opts := &RootOptions{OutW: outW}

	cmd := &cobra.Command{
		Use:           "eidolon",
		Short:         "Eidolon - a pluggable dataflow pipeline runtime",
		Long:          "Eidolon composes signed modules into a typed dataflow pipeline and runs them over an in-process message bus.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSecurityCommand(opts))
	return cmd
}

// newLogger builds the run-scoped logger from the global flags. Library
// packages receive it through context; the global default is untouched.
func newLogger(opts *RootOptions, errW io.Writer) *slog.Logger {
	var level slog.Level
	switch opts.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(errW, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(errW, handlerOpts))
}
