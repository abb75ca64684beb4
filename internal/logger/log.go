// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"vgclog/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// Called once at process start. Chooses the log shape from config:
//
//  1. Format:
//     - LOG_PRETTY=true: colored console lines for a developer terminal
//     - otherwise: one JSON object per line for log shipping
//
//  2. Common fields:
//     - every line carries "service" and "instance"
//
//  3. Sampling:
//     - Debug/Info keep 1 of every LOG_SAMPLE_N lines when N > 1
//     - Warn/Error are never sampled; sink failures and stream
//     corruption must always be visible
//
// Usage:
//
//	logger.Init(cfg)
//	log.Info().Msg("verbose gc enabled")
//
// Verbose GC output itself never goes through this logger, except for the
// trace relay sink; this is the process's own operational log.
func Init(cfg config.Config) {
	Setup(cfg, os.Stderr)
}

// Setup is Init with an explicit destination, used by tests.
func Setup(cfg config.Config, out io.Writer) zerolog.Logger {

	// -------------------------------------------------------------------
	// 1) level
	// -------------------------------------------------------------------
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && cfg.LogLevel != "" {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// -------------------------------------------------------------------
	// 2) human vs machine
	// -------------------------------------------------------------------
	var w io.Writer

	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	} else {
		w = out
	}

	// -------------------------------------------------------------------
	// 3) base logger with common fields
	// -------------------------------------------------------------------
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	// -------------------------------------------------------------------
	// 4) sampling
	// -------------------------------------------------------------------
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	// -------------------------------------------------------------------
	// 5) replace the global logger and route stdlib log through it
	// -------------------------------------------------------------------
	zlog.Logger = logger

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)

	return logger
}

// Component returns a child of the global logger tagged with component=name.
func Component(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}
