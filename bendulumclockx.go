// Driver for quick experiments

package main

import (
	"time"

	"go.uber.org/zap"

	"example.com/bendulum-clock/base/timemath"
	"example.com/bendulum-clock/driver/clock"
)

func runX() {
	initLogger(true /* verbose */)

	clk := &clock.SystemClock{Log: log}
	log.Debug("local clock", zap.Time("now", clk.Now()))

	d := 904 * time.Millisecond
	for _, bias := range []int64{-36000, -50, 0, 50, 36000} {
		log.Debug("bias application",
			zap.Int64("bias", bias),
			zap.Duration("interval", d),
			zap.Duration("corrected", timemath.ApplyBias(bias, d)),
		)
	}
}
