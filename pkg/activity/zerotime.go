package activity

import (
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/config"
	"go.uber.org/zap"
)

var (
	zeroMu       sync.Mutex
	zeroInstance *TimerThread
	zeroConfig   = config.Default().ZeroTime
	zeroOpts     []Option
)

// SetZeroTimeConfig installs the scheduling parameters and options used when
// the zero-time thread is next constructed. An existing instance is not
// affected.
func SetZeroTimeConfig(cfg config.ZeroTimeConfig, opts ...Option) {
	zeroMu.Lock()
	defer zeroMu.Unlock()
	zeroConfig = cfg
	zeroOpts = opts
}

// ZeroTimeThread returns the process-wide zero-time thread, constructing it
// on first use. The thread is made hard real-time at construction and is
// parked until started.
func ZeroTimeThread() (*TimerThread, error) {
	zeroMu.Lock()
	defer zeroMu.Unlock()

	if zeroInstance != nil {
		return zeroInstance, nil
	}

	tt, err := NewTimerThread(zeroConfig.Priority, zeroConfig.Name, zeroConfig.Period, zeroOpts...)
	if err != nil {
		return nil, err
	}
	tt.MakeHardRealtime()
	tt.logger.Info("Zero-time thread created",
		zap.String("thread", tt.Name()),
		zap.Duration("period", tt.Period()),
		zap.Int("priority", zeroConfig.Priority))

	zeroInstance = tt
	return tt, nil
}

// ReleaseZeroTimeThread stops and destroys the zero-time thread. Existing
// references become invalid: their Start returns false. It always returns
// true, including when no instance exists.
func ReleaseZeroTimeThread() bool {
	zeroMu.Lock()
	defer zeroMu.Unlock()

	if zeroInstance == nil {
		return true
	}
	zeroInstance.Release()
	zeroInstance.logger.Debug("Zero-time thread destroyed", zap.String("thread", zeroInstance.Name()))
	zeroInstance = nil
	return true
}
