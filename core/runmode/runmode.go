package runmode

// Mode is the current phase of the calibration/operation state machine.
// Exactly one mode is active at a time; all transitions happen inside the
// engine, which is the single owner of the value.
type Mode uint8

const (
	// ColdStart means no persisted state is trusted. Entered when the
	// settings tag is absent or mismatched, or when a cold start is forced
	// externally.
	ColdStart Mode = iota
	// WarmStart discards initial beats after startup with valid settings.
	WarmStart
	// Scale tunes the beat-detection peak sensitivity.
	Scale
	// Settle discards beats to let mechanical transients die out.
	Settle
	// Calibrate feeds beat measurements into the calibration model.
	Calibrate
	// CalFinish persists the refined model, exactly once.
	CalFinish
	// Run is the steady state: beats drive the clock and opportunistically
	// refine the model.
	Run
	// CalRTC drives the clock from the raw reference oscillator so the
	// oscillator correction can be dialed in against an external clock.
	CalRTC
)

var names = [...]string{
	ColdStart: "COLDSTART",
	WarmStart: "WARMSTART",
	Scale:     "SCALE",
	Settle:    "SETTLE",
	Calibrate: "CALIBRATE",
	CalFinish: "CALFINISH",
	Run:       "RUN",
	CalRTC:    "CALRTC",
}

func (m Mode) String() string {
	if int(m) >= len(names) {
		return "INVALID"
	}
	return names[m]
}
