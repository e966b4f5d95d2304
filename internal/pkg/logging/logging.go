package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ManuelReschke/LicenseFox/internal/pkg/env"
)

// Config controls logger initialization.
type Config struct {
	Format    string // "json" or "console"
	Level     string // "debug", "info", "warn", "error"
	Component string
}

var (
	mu         sync.RWMutex
	baseLogger zerolog.Logger
)

func init() {
	baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Logger = baseLogger
}

// Setup initializes the global logger from LOG_LEVEL / LOG_FORMAT.
func Setup() zerolog.Logger {
	return Init(Config{
		Format:    env.GetEnv("LOG_FORMAT", "json"),
		Level:     env.GetEnv("LOG_LEVEL", "info"),
		Component: "licensefox",
	})
}

// Init configures zerolog globals and establishes the package baseline logger.
func Init(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	builder := zerolog.New(selectWriter(cfg.Format)).With().Timestamp()
	if component := strings.TrimSpace(cfg.Component); component != "" {
		builder = builder.Str("component", component)
	}

	baseLogger = builder.Logger()
	log.Logger = baseLogger
	return baseLogger
}

// Component returns a child logger tagged with the given subsystem name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger.With().Str("module", name).Logger()
}

// Nop is handy for tests that construct services directly.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	case "json", "":
		return os.Stderr
	default:
		fmt.Fprintf(os.Stderr, "logging: invalid format %q; using %q\n", format, "json")
		return os.Stderr
	}
}
