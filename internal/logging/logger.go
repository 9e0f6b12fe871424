// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"meteomesh/internal/config"
)

type Options struct {
	Version string
	App     string
	// Out defaults to os.Stdout.
	Out io.Writer
	// Attrs tag every record, e.g. the node id and simulation speed.
	Attrs []any
}

// New returns a colored tint logger for dev builds and a JSON logger
// otherwise. Dev output stays terse; JSON records carry version and env.
func New(cfg config.Base, opts Options) *slog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var logger *slog.Logger
	if opts.Version == "dev" {
		logger = slog.New(tint.NewHandler(out, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
			NoColor:    out != os.Stdout && out != os.Stderr,
		})).With("app", opts.App)
	} else {
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		})).With(
			"app", opts.App,
			"version", opts.Version,
			"env", cfg.AppEnv,
		)
	}
	if len(opts.Attrs) > 0 {
		logger = logger.With(opts.Attrs...)
	}
	return logger
}

// NodeAttrs identifies a node process in its logs.
func NodeAttrs(cfg config.Node) []any {
	attrs := []any{"node_id", "NODE_" + cfg.NodeID}
	return append(attrs, simAttrs(cfg.Simulation)...)
}

// CentralAttrs identifies the central process in its logs.
func CentralAttrs(cfg config.Central) []any {
	return simAttrs(cfg.Simulation)
}

func simAttrs(s config.Simulation) []any {
	if !s.Enabled {
		return nil
	}
	return []any{"sim_speed", s.Speed}
}
