// Package jumper reads the cold-start jumper once at startup. A fitted
// jumper pulls the configured pin low, which discards the stored settings
// record and forces a full recalibration.

package jumper

import (
	"go.uber.org/zap"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// ColdStartRequested reports whether the jumper on the named pin is fitted.
// An empty name or an unavailable GPIO host means no jumper, never an error;
// a board without the jumper simply warm-starts.
func ColdStartRequested(log *zap.Logger, pin string) bool {
	if pin == "" {
		return false
	}
	_, err := driverreg.Init()
	if err != nil {
		log.Warn("gpio host unavailable, skipping cold-start jumper", zap.Error(err))
		return false
	}
	p := gpioreg.ByName(pin)
	if p == nil {
		log.Warn("cold-start jumper pin not found", zap.String("pin", pin))
		return false
	}
	err = p.In(gpio.PullUp, gpio.NoEdge)
	if err != nil {
		log.Warn("failed to configure cold-start jumper pin",
			zap.String("pin", pin),
			zap.Error(err),
		)
		return false
	}
	set := p.Read() == gpio.Low
	log.Info("cold-start jumper read",
		zap.String("pin", pin),
		zap.Bool("set", set),
	)
	return set
}
