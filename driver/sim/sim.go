// Deterministic bendulum, movement and companion fakes. Used by the sim
// subcommand, the benchmark, and the engine tests: same beat stream on every
// run, no hardware required.

package sim

import (
	"time"

	"go.uber.org/zap"

	"example.com/bendulum-clock/base/timebase"
	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/intent"
	"example.com/bendulum-clock/core/runmode"
	"example.com/bendulum-clock/core/settings"
)

type BendulumConfig struct {
	// TruePeriod is the real beat period at ReferenceC.
	TruePeriod time.Duration
	ReferenceC float64
	// TempCoeffPPM lengthens the period per degree above ReferenceC.
	TempCoeffPPM float64
	// SkewPPM models the inaccuracy of the reference oscillator: measured
	// durations are scaled by 1+SkewPPM/1e6.
	SkewPPM float64
	// JitterPPM is the amplitude of the deterministic measurement jitter.
	JitterPPM float64
	AmbientC  float64
	// TargetScale is the peak sensitivity at which detection stabilizes.
	TargetScale int
}

func (c BendulumConfig) withDefaults() BendulumConfig {
	if c.TruePeriod == 0 {
		c.TruePeriod = 904 * time.Millisecond
	}
	if c.ReferenceC == 0 {
		c.ReferenceC = 20.0
	}
	if c.AmbientC == 0 {
		c.AmbientC = c.ReferenceC
	}
	if c.TargetScale == 0 {
		c.TargetScale = 12
	}
	return c
}

// Bendulum produces one beat per poll.
type Bendulum struct {
	log  *zap.Logger
	cfg  BendulumConfig
	n    uint64
	tick bool
}

var _ engine.Oscillator = (*Bendulum)(nil)

func NewBendulum(log *zap.Logger, cfg BendulumConfig) *Bendulum {
	return &Bendulum{log: log, cfg: cfg.withDefaults()}
}

// SetAmbient changes the simulated temperature for subsequent beats.
func (b *Bendulum) SetAmbient(tempC float64) {
	b.cfg.AmbientC = tempC
}

func (b *Bendulum) PollBeat() (engine.Beat, bool) {
	b.n++
	b.tick = !b.tick

	p := float64(b.cfg.TruePeriod)
	p *= 1 + b.cfg.TempCoeffPPM*(b.cfg.AmbientC-b.cfg.ReferenceC)/1e6
	p *= 1 + b.cfg.SkewPPM/1e6
	// Weyl-sequence jitter in [-JitterPPM, +JitterPPM].
	j := float64(b.n*2654435761%2001)/1000 - 1
	p *= 1 + j*b.cfg.JitterPPM/1e6

	return engine.Beat{
		Duration:     time.Duration(p),
		Tick:         b.tick,
		TemperatureC: b.cfg.AmbientC,
	}, true
}

func (b *Bendulum) TuneScale(scale int) (int, bool) {
	if scale < b.cfg.TargetScale {
		return scale + 1, false
	}
	if scale > b.cfg.TargetScale {
		return scale - 1, false
	}
	return scale, true
}

// Movement records every drive command instead of moving hands.
type Movement struct {
	Micros          int64 // net displayed-time movement, in microseconds
	MicrosCommands  int
	SecondsCommands int
	Cancels         int
	LastMicros      int64
	LastSeconds     int64
}

var _ engine.Actuator = (*Movement)(nil)

func (m *Movement) DriveMicros(us int64) {
	m.Micros += us
	m.MicrosCommands++
	m.LastMicros = us
}

func (m *Movement) DriveSeconds(s int64) {
	m.Micros += s * 1e6
	m.SecondsCommands++
	m.LastSeconds = s
}

func (m *Movement) CancelDrive() {
	m.Cancels++
}

// Store keeps the settings record in memory. A nil Rec loads as an invalid
// record, which sends the engine down the cold-start branch.
type Store struct {
	Rec     *settings.Settings
	Saves   int
	SaveErr error
}

var _ engine.Store = (*Store)(nil)

func (s *Store) Load() (settings.Settings, error) {
	if s.Rec == nil {
		return settings.Settings{}, nil
	}
	return *s.Rec, nil
}

func (s *Store) Save(rec settings.Settings) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	r := rec
	s.Rec = &r
	s.Saves++
	return nil
}

// Intents is a scripted intent queue.
type Intents struct {
	queue []intent.Intent
}

var _ engine.IntentSource = (*Intents)(nil)

func (q *Intents) Push(is ...intent.Intent) {
	q.queue = append(q.queue, is...)
}

func (q *Intents) PollIntent() (intent.Intent, bool) {
	if len(q.queue) == 0 {
		return 0, false
	}
	i := q.queue[0]
	q.queue = q.queue[1:]
	return i, true
}

// Feedback records mode tags and flashes.
type Feedback struct {
	Modes   []runmode.Mode
	Flashes int
}

var _ engine.Feedback = (*Feedback)(nil)

func (f *Feedback) Mode(m runmode.Mode) {
	f.Modes = append(f.Modes, m)
}

func (f *Feedback) Flash() {
	f.Flashes++
}

// Clock is a manual local clock: Sleep advances simulated time instantly.
type Clock struct {
	T time.Time
}

var _ timebase.LocalClock = (*Clock)(nil)

func (c *Clock) Now() time.Time {
	return c.T
}

func (c *Clock) Sleep(d time.Duration) {
	c.T = c.T.Add(d)
}
