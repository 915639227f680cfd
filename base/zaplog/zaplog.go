// Package zaplog holds the process-wide logger for components that are not
// handed one at construction time, such as the benchmark driver.
package zaplog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func Logger() *zap.Logger { return logger.Load() }

func SetLogger(l *zap.Logger) { logger.Store(l) }
