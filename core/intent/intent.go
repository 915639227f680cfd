package intent

// Intent is a resolved user command. The remote decoding layer maps raw key
// codes onto this closed set; the engine never sees an unmapped code.
type Intent uint8

const (
	EnableAdjust Intent = iota
	StepUp
	StepDown
	Cancel
	IncreasePending
	DecreasePending
	Pause
	Advance
	ModeSwitch
)

var names = [...]string{
	EnableAdjust:    "enable-adjust",
	StepUp:          "step-up",
	StepDown:        "step-down",
	Cancel:          "cancel",
	IncreasePending: "increase",
	DecreasePending: "decrease",
	Pause:           "pause",
	Advance:         "advance",
	ModeSwitch:      "mode-switch",
}

func (i Intent) String() string {
	if int(i) >= len(names) {
		return "unknown"
	}
	return names[i]
}

// Parse resolves an intent name as received from a bridge driver. The second
// return value reports whether the name was recognized.
func Parse(s string) (Intent, bool) {
	for i, n := range names {
		if n == s {
			return Intent(i), true
		}
	}
	return 0, false
}
