// Package logging provides the production implementation of
// callbridge.Logger backed by go.uber.org/zap's sugared logger.
package logging

import (
	"go.uber.org/zap"

	"github.com/aldar-voice/callbridge/pkg/callbridge"
)

// ZapLogger adapts a *zap.SugaredLogger to callbridge.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a ZapLogger at the given level ("debug", "info", "warn",
// "error") with the given output format ("json" or "text"/"console").
func New(level, format string) (*ZapLogger, error) {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{sugar: logger.Sugar()}, nil
}

// NewNop returns a ZapLogger that discards everything, for tests.
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.sugar.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.sugar.Errorw(msg, args...) }

// Sync flushes any buffered log entries; call before process exit.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

var _ callbridge.Logger = (*ZapLogger)(nil)
