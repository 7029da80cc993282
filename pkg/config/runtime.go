package config

import (
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConfigureRuntime sets GOMAXPROCS to the container CPU quota. Call it at the
// very start of main, before any real-time thread is created. The returned
// function restores the previous value.
func ConfigureRuntime(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.L()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Info("Runtime configured", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}

// NewLogger builds a zap logger from the log section.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// InitSentry initialises the sentry client used for panic reports from
// activities. With an empty DSN events are dropped. The returned function
// flushes buffered events.
func InitSentry(cfg SentryConfig) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
