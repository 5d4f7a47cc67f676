package cmd

import (
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// newLogger builds the process logger from the global flags.
func newLogger(c *cli.Command, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case c.Bool("verbose"):
		level = slog.LevelDebug
	case c.Bool("quiet"):
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Bool("log-json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
