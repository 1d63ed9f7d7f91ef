// Package logger constructs the *zap.SugaredLogger instances passed into
// Axon's components via their Config structs. It is the one place in the
// module that decides encoding, level and output sinks so every component
// logs through the same configuration.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects one of the predefined logger configurations.
type Mode string

const (
	// ModeProduction emits JSON-encoded logs at info level and above.
	ModeProduction Mode = "production"

	// ModeDevelopment emits human-readable, colorized logs at debug level
	// and above, with stack traces on warnings.
	ModeDevelopment Mode = "development"
)

// Config controls how New builds the underlying zap.Logger.
type Config struct {
	// Mode selects the base encoder/level configuration. Defaults to
	// ModeProduction if empty.
	Mode Mode

	// Level overrides the base level implied by Mode, when non-empty.
	// Accepts the usual zap level names: "debug", "info", "warn", "error".
	Level string

	// Fields are attached to every log line emitted by the returned logger,
	// e.g. a store name or instance id.
	Fields map[string]any
}

// New builds a *zap.SugaredLogger according to cfg. A zero-value Config
// builds a ModeProduction logger at its default level; a Level string that
// zap cannot parse makes New return an error.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var zcfg zap.Config

	switch cfg.Mode {
	case ModeDevelopment:
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	base, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: failed to build zap logger: %w", err)
	}

	log := base.Sugar()
	if len(cfg.Fields) > 0 {
		args := make([]any, 0, len(cfg.Fields)*2)
		for k, v := range cfg.Fields {
			args = append(args, k, v)
		}
		log = log.With(args...)
	}

	return log, nil
}

// Noop returns a logger that discards everything written to it. Useful for
// tests and for callers that pass no Logger in their Config.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
