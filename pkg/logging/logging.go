package logging

import (
	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates the service logger: an ectologger backed by a zap sink.
func New(appName, level string, pretty bool) ectologger.Logger {
	var zapCfg zap.Config
	if pretty {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zlog, err := zapCfg.Build()
	if err != nil {
		zlog = zap.NewNop()
	}
	sink := zlog.With(zap.String("app", appName))

	return ectologger.NewEctoLogger(func(m ectologger.EctoLogMessage) {
		sink.Info("log", zap.Any("entry", m))
	})
}

// NewNop creates a logger that discards everything. Used in tests.
func NewNop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}
