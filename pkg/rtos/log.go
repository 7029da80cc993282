package rtos

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var pkgLogger atomic.Pointer[zap.Logger]

// SetLogger sets the logger used by tasks created without their own logger.
// Passing nil restores the zap global logger.
func SetLogger(logger *zap.Logger) {
	pkgLogger.Store(logger)
}

func defaultLogger() *zap.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return zap.L()
}
