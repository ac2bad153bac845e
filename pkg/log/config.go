package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Config declares a process logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Output is "stderr" (default), "stdout", or a file path.
	Output string `json:"output" yaml:"output"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "", "text", "console":
		format = "text"
	case "json":
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log: open output: %w", err)
		}
		out = f
	}
	return NewLogger(WithLevel(level), WithFormat(format), WithOutput(out)), nil
}

// RedirectStdLog routes the standard library logger into l at info level and
// returns a function restoring the previous configuration.
func RedirectStdLog(l Logger) func() {
	zl, ok := l.(*zapLogger)
	if !ok {
		return func() {}
	}
	return zap.RedirectStdLog(zl.z)
}
