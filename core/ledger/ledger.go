package ledger

// The adjustment ledger accumulates a pending manual speed or time correction
// entered in discrete steps, and hands it over for an atomic commit when the
// adjustable window is toggled off. All mutating operations are deliberate
// no-ops while the ledger is not adjustable, so stray inputs outside an
// explicit "armed" window cannot corrupt state.

// Step magnitudes in tenths of a second: 0.1s, 1s, 10s, 1min, 10min, 1hr.
var stepTenths = [...]int64{1, 10, 100, 600, 6000, 36000}

const (
	// PendingLimit clamps the accumulated pending adjustment to one day
	// per day in either direction.
	PendingLimit = 864000

	// RateLimit clamps committed rate corrections (oscillator bias and
	// speed adjustment) to one hour per day in either direction.
	RateLimit = 36000
)

// Target selects the persisted field a commit applies to.
type Target uint8

const (
	// TargetSpeed commits into the speed adjustment on the beat path.
	TargetSpeed Target = iota
	// TargetRTC commits into the reference oscillator bias.
	TargetRTC
)

// Ledger is ephemeral adjustment state. It never touches persisted settings
// itself; the engine applies the value returned by Toggle.
type Ledger struct {
	stepIndex  int
	pending    int64
	adjustable bool
	targetsRTC bool
}

func NumSteps() int {
	return len(stepTenths)
}

// StepSize returns the magnitude of step index i in tenths of a second.
func StepSize(i int) int64 {
	return stepTenths[i]
}

func (l *Ledger) Adjustable() bool {
	return l.adjustable
}

func (l *Ledger) Pending() int64 {
	return l.pending
}

func (l *Ledger) StepIndex() int {
	return l.stepIndex
}

// StepTenths is the magnitude of the currently selected step.
func (l *Ledger) StepTenths() int64 {
	return stepTenths[l.stepIndex]
}

func (l *Ledger) TargetsRTC() bool {
	return l.targetsRTC
}

// SetTargetRTC selects which persisted field subsequent commits apply to.
func (l *Ledger) SetTargetRTC(rtc bool) {
	l.targetsRTC = rtc
}

// Toggle flips the adjustable window. Toggling off with a nonzero pending
// value yields that value for the engine to commit; the ledger resets either
// way. Toggling on only arms the other operations.
func (l *Ledger) Toggle() (pending int64, target Target, commit bool) {
	if !l.adjustable {
		l.adjustable = true
		return 0, TargetSpeed, false
	}
	l.adjustable = false
	pending = l.pending
	l.pending = 0
	if pending == 0 {
		return 0, TargetSpeed, false
	}
	target = TargetSpeed
	if l.targetsRTC {
		target = TargetRTC
	}
	return pending, target, true
}

func (l *Ledger) StepUp() {
	if !l.adjustable {
		return
	}
	l.stepIndex = (l.stepIndex + 1) % len(stepTenths)
}

func (l *Ledger) StepDown() {
	if !l.adjustable {
		return
	}
	l.stepIndex = (l.stepIndex + len(stepTenths) - 1) % len(stepTenths)
}

func clamp(v, limit int64) int64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Clamp bounds a committed rate to the documented range.
func ClampRate(v int64) int64 {
	return clamp(v, RateLimit)
}

func (l *Ledger) Increase() {
	if !l.adjustable {
		return
	}
	l.pending = clamp(l.pending+stepTenths[l.stepIndex], PendingLimit)
}

func (l *Ledger) Decrease() {
	if !l.adjustable {
		return
	}
	l.pending = clamp(l.pending-stepTenths[l.stepIndex], PendingLimit)
}

// Cancel zeroes the pending adjustment unconditionally. The adjustable window
// and step selection survive.
func (l *Ledger) Cancel() {
	l.pending = 0
}
