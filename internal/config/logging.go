package config

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "eventsite"

// NewLogger builds the process logger and installs it as the zerolog global.
// Output from the standard library log package (net/http server errors among
// it) is routed through the same logger.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(logWriter(cfg.Format, out)).
		Level(logLevel(cfg.Level)).
		With().Timestamp().Str("service", serviceName).
		Logger()

	log.Logger = logger
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str("source", "stdlib").Logger())
	return logger
}

// logLevel falls back to info for empty or unknown names.
func logLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func logWriter(format string, out io.Writer) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}
