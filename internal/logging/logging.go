package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	Name   string
	Level  string // trace, debug, info, warn, error
	JSON   bool
	Output io.Writer // defaults to stderr
}

// New builds the process logger. Unknown levels fall back to info.
func New(opts Options) hclog.Logger {
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		JSONFormat: opts.JSON,
		Output:     out,
	})
}

// ValidLevel reports whether s names an hclog level.
func ValidLevel(s string) bool {
	return hclog.LevelFromString(s) != hclog.NoLevel
}
