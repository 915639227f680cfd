package engine

import (
	"time"

	"example.com/bendulum-clock/core/intent"
	"example.com/bendulum-clock/core/runmode"
	"example.com/bendulum-clock/core/settings"
)

// Beat is one detected half-swing of the bendulum.
type Beat struct {
	// Duration is the interval since the previous beat as measured by the
	// reference oscillator. It is uncorrected.
	Duration time.Duration
	// Tick is true for the primary phase, false for the tock.
	Tick bool
	// TemperatureC is the ambient temperature at detection time.
	TemperatureC float64
}

// Oscillator is the beat-detection collaborator. PollBeat must not block
// beyond a short read timeout; it reports false until a beat has completed.
type Oscillator interface {
	PollBeat() (Beat, bool)
	// TuneScale performs one peak-sensitivity tuning step and reports
	// whether detection was stable at the returned scale. The stability
	// criterion belongs to the detector, not to the engine.
	TuneScale(scale int) (next int, stable bool)
}

// Actuator drives the Lavet-motor movement. Negative values move the
// displayed time backwards. CancelDrive aborts an in-flight multi-pulse
// command without leaving the mechanism mid-step.
type Actuator interface {
	DriveMicros(us int64)
	DriveSeconds(s int64)
	CancelDrive()
}

// Store loads and saves the persisted settings record. Load fails softly:
// a missing or corrupt record yields cold-start defaults, not an error.
type Store interface {
	Load() (settings.Settings, error)
	Save(settings.Settings) error
}

// IntentSource yields resolved user intents, one per poll.
type IntentSource interface {
	PollIntent() (intent.Intent, bool)
}

// Feedback receives state tags for an external indicator. Implementations
// must return quickly; rendering happens elsewhere.
type Feedback interface {
	Mode(m runmode.Mode)
	Flash()
}

// Config carries the capability flags and tuning constants of the engine.
type Config struct {
	// TemperatureCompensated selects the bucketed calibration model over
	// the single scalar estimate.
	TemperatureCompensated bool
	// SupportsRTCCalibration enables the CALRTC mode.
	SupportsRTCCalibration bool
	// ColdStart forces cold-start defaults regardless of the stored tag,
	// e.g. when the jumper is set.
	ColdStart bool

	// SettleBeats is the number of beats discarded in WARMSTART and SETTLE.
	SettleBeats int
	// ScaleStableBeats is the run of stable beats required to leave SCALE.
	ScaleStableBeats int
	// CalibrationTargetSamples is the per-bucket sample count at which a
	// bucket is complete.
	CalibrationTargetSamples int
	// CalibrationMinBeats and CalibrationMaxBeats bound the CALIBRATE
	// phase; convergence is checked only past the minimum, and the budget
	// forces CALFINISH at the maximum.
	CalibrationMinBeats int
	CalibrationMaxBeats int
	// ConvergenceTolerance is the maximum relative change between
	// consecutive smoothed beat-rate estimates that counts as converged.
	ConvergenceTolerance float64
	// ConvergenceRun is the number of consecutive converged beats required.
	ConvergenceRun int

	// PollInterval paces the control loop.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SettleBeats == 0 {
		c.SettleBeats = 32
	}
	if c.ScaleStableBeats == 0 {
		c.ScaleStableBeats = 10
	}
	if c.CalibrationTargetSamples == 0 {
		c.CalibrationTargetSamples = 30
	}
	if c.CalibrationMinBeats == 0 {
		c.CalibrationMinBeats = 64
	}
	if c.CalibrationMaxBeats == 0 {
		c.CalibrationMaxBeats = 4096
	}
	if c.ConvergenceTolerance == 0 {
		c.ConvergenceTolerance = 1e-4
	}
	if c.ConvergenceRun == 0 {
		c.ConvergenceRun = 16
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	return c
}
