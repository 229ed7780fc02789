// Package logging builds the zap logger used across the service.
package logging

import (
	"fmt"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for cfg along with its level handle so the level can
// be changed at runtime.
func New(cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parse log level: %w", err)
	}
	atom := zap.NewAtomicLevelAt(level)

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = atom

	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("build logger: %w", err)
	}
	return logger, atom, nil
}

// SetLevel applies a textual level to atom, ignoring unknown values.
func SetLevel(atom zap.AtomicLevel, level string) bool {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return false
	}
	atom.SetLevel(l)
	return true
}
