package engine_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/intent"
	"example.com/bendulum-clock/core/ledger"
	"example.com/bendulum-clock/core/runmode"
	"example.com/bendulum-clock/core/settings"
	"example.com/bendulum-clock/driver/sim"
)

func testConfig() engine.Config {
	return engine.Config{
		TemperatureCompensated:   true,
		SupportsRTCCalibration:   true,
		SettleBeats:              4,
		ScaleStableBeats:         3,
		CalibrationTargetSamples: 4,
		CalibrationMinBeats:      8,
		CalibrationMaxBeats:      256,
		ConvergenceRun:           4,
		ConvergenceTolerance:     1e-4,
	}
}

type harness struct {
	eng      *engine.Engine
	bend     *sim.Bendulum
	movement *sim.Movement
	store    *sim.Store
	intents  *sim.Intents
	feedback *sim.Feedback
}

func newHarness(t *testing.T, cfg engine.Config, rec *settings.Settings,
	bcfg sim.BendulumConfig) *harness {

	t.Helper()
	h := &harness{
		bend:     sim.NewBendulum(zap.NewNop(), bcfg),
		movement: &sim.Movement{},
		store:    &sim.Store{Rec: rec},
		intents:  &sim.Intents{},
		feedback: &sim.Feedback{},
	}
	h.eng = engine.New(zap.NewNop(), &sim.Clock{}, cfg,
		h.bend, h.movement, h.store, h.intents, h.feedback)
	return h
}

// beatsUntil feeds up to n beats, stopping as soon as the engine reaches
// mode m. It returns the number of beats fed.
func (h *harness) beatsUntil(n int, m runmode.Mode) int {
	for i := 0; i < n; i++ {
		if h.eng.Mode() == m {
			return i
		}
		b, _ := h.bend.PollBeat()
		h.eng.ProcessBeat(b)
	}
	return n
}

// calibratedSettings builds a record the engine accepts without
// recalibrating: a tuned peak scale and two complete temperature buckets.
func calibratedSettings(targetSamples int32) *settings.Settings {
	s := settings.Default()
	s.PeakScale = 12
	s.USPB = 904000
	for _, i := range []int{24, 34} {
		s.Buckets[i] = settings.Bucket{USPB: 904000, Samples: targetSamples}
	}
	return &s
}

// runHarness returns a harness already settled into RUN from a warm start.
func runHarness(t *testing.T, bcfg sim.BendulumConfig) *harness {
	t.Helper()
	cfg := testConfig()
	h := newHarness(t, cfg, calibratedSettings(int32(cfg.CalibrationTargetSamples)), bcfg)
	h.beatsUntil(16, runmode.Run)
	if h.eng.Mode() != runmode.Run {
		t.Fatalf("harness did not reach RUN, mode = %v", h.eng.Mode())
	}
	return h
}

func TestColdStartToRun(t *testing.T) {
	h := newHarness(t, testConfig(), nil, sim.BendulumConfig{SkewPPM: 200})

	if h.eng.Mode() != runmode.ColdStart {
		t.Fatalf("initial mode = %v, want COLDSTART", h.eng.Mode())
	}

	n := h.beatsUntil(1024, runmode.Run)
	if h.eng.Mode() != runmode.Run {
		t.Fatalf("engine did not reach RUN, stuck in %v after %d beats", h.eng.Mode(), n)
	}

	if h.store.Saves != 1 {
		t.Errorf("settings saved %d times on the way to RUN, want exactly 1", h.store.Saves)
	}
	if h.store.Rec == nil || !h.store.Rec.Valid() {
		t.Fatal("persisted settings missing or tag invalid after calibration")
	}
	if h.store.Rec.PeakScale != 12 {
		t.Errorf("persisted peak scale = %d, want 12", h.store.Rec.PeakScale)
	}

	// The calibrated beat duration must match the simulated oscillator,
	// skew included: 904 ms scaled by 200 ppm.
	const want = 904180
	if got := h.store.Rec.USPB; got < want-5 || got > want+5 {
		t.Errorf("calibrated beat duration = %d µs, want %d ±5", got, want)
	}

	// The state machine must have passed through every calibration phase.
	seen := map[runmode.Mode]bool{}
	for _, m := range h.feedback.Modes {
		seen[m] = true
	}
	for _, m := range []runmode.Mode{runmode.ColdStart, runmode.WarmStart, runmode.Scale,
		runmode.Settle, runmode.Calibrate, runmode.CalFinish, runmode.Run} {
		if !seen[m] {
			t.Errorf("mode %v never reported to the feedback sink", m)
		}
	}
}

func TestWarmStartSkipsCalibration(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})
	if h.store.Saves != 0 {
		t.Errorf("warm start wrote settings %d times, want 0", h.store.Saves)
	}
}

func TestNonCompensatedColdStart(t *testing.T) {
	cfg := testConfig()
	cfg.TemperatureCompensated = false
	cfg.SupportsRTCCalibration = false
	h := newHarness(t, cfg, nil, sim.BendulumConfig{})

	h.beatsUntil(1024, runmode.Run)
	if h.eng.Mode() != runmode.Run {
		t.Fatalf("mode = %v, want RUN", h.eng.Mode())
	}
	if h.store.Rec == nil || h.store.Rec.USPB != 904000 {
		t.Errorf("calibrated scalar beat duration = %v, want 904000 µs", h.store.Rec)
	}

	// Without RTC calibration support, the mode switch is inert.
	h.eng.Apply(intent.ModeSwitch)
	if h.eng.Mode() != runmode.Run {
		t.Errorf("mode = %v after unsupported mode switch, want RUN", h.eng.Mode())
	}
}

func TestRunDrivesMovement(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	for i := 0; i < 100; i++ {
		b, _ := h.bend.PollBeat()
		h.eng.ProcessBeat(b)
	}
	// Every 904 ms beat exceeds the 500 ms batching threshold, so each
	// beat advances the displayed clock by one calibrated duration.
	if want := int64(100 * 904000); h.movement.Micros != want {
		t.Errorf("net advance = %d µs, want %d", h.movement.Micros, want)
	}
	if h.movement.SecondsCommands != 0 {
		t.Errorf("unexpected whole-second drive commands: %d", h.movement.SecondsCommands)
	}
}

func TestAdvanceBatching(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	// 300 ms beats: advances may only fire once at least 500 ms of
	// uncorrected time has accumulated, i.e. every second beat.
	short := sim.NewBendulum(zap.NewNop(), sim.BendulumConfig{TruePeriod: 300 * time.Millisecond})
	const n = 10
	for i := 0; i < n; i++ {
		b, _ := short.PollBeat()
		h.eng.ProcessBeat(b)
	}
	if h.movement.MicrosCommands != n/2 {
		t.Errorf("drive commands = %d for %d short beats, want %d",
			h.movement.MicrosCommands, n, n/2)
	}
}

func TestSpeedCommit(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	h.eng.Apply(intent.EnableAdjust)
	h.eng.Apply(intent.StepUp) // 1 s steps
	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.DecreasePending)
	if h.eng.Pending() != 10 {
		t.Fatalf("pending = %d tenths, want 10", h.eng.Pending())
	}
	h.eng.Apply(intent.EnableAdjust)

	if h.store.Rec.SpeedAdj != 10 {
		t.Errorf("speedAdj = %d after commit, want 10", h.store.Rec.SpeedAdj)
	}
	if h.store.Rec.RTCBias != 0 {
		t.Errorf("rtcBias = %d after speed commit, want 0", h.store.Rec.RTCBias)
	}
	if h.store.Saves != 1 {
		t.Errorf("settings saved %d times, want 1", h.store.Saves)
	}

	// The committed speed adjustment must change subsequent advances:
	// 10 tenths per day over 904 ms beats adds about 10 µs per beat.
	h.movement.Micros = 0
	for i := 0; i < 100; i++ {
		b, _ := h.bend.PollBeat()
		h.eng.ProcessBeat(b)
	}
	base := int64(100 * 904000)
	if h.movement.Micros <= base {
		t.Errorf("net advance = %d µs after speed-up commit, want > %d",
			h.movement.Micros, base)
	}
}

func TestCommitClampsToRateLimit(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	h.eng.Apply(intent.EnableAdjust)
	for i := 0; i < 5; i++ {
		h.eng.Apply(intent.StepUp) // largest step, 1 hr
	}
	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.EnableAdjust)

	if h.store.Rec.SpeedAdj != ledger.RateLimit {
		t.Errorf("speedAdj = %d after oversized commit, want clamp %d",
			h.store.Rec.SpeedAdj, ledger.RateLimit)
	}
}

func TestCalRTCCommitTargetsRTCBias(t *testing.T) {
	cfg := testConfig()
	rec := calibratedSettings(int32(cfg.CalibrationTargetSamples))
	h := newHarness(t, cfg, rec, sim.BendulumConfig{})
	h.beatsUntil(16, runmode.Run)

	h.eng.Apply(intent.ModeSwitch)
	if h.eng.Mode() != runmode.CalRTC {
		t.Fatalf("mode = %v after mode switch, want CALRTC", h.eng.Mode())
	}

	h.eng.Apply(intent.EnableAdjust)
	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.EnableAdjust)

	if h.store.Rec.RTCBias != 1 {
		t.Errorf("rtcBias = %d after commit, want 1", h.store.Rec.RTCBias)
	}
	if h.store.Rec.SpeedAdj != 0 {
		t.Errorf("speedAdj = %d after rtc commit, want 0", h.store.Rec.SpeedAdj)
	}
	if h.store.Rec.Buckets != rec.Buckets {
		t.Error("rtc commit modified the beat-duration table")
	}
	if h.store.Saves != 1 {
		t.Errorf("settings saved %d times, want exactly 1", h.store.Saves)
	}

	// A committed bias change invalidates the beat model; leaving CALRTC
	// must force a fresh calibration pass through WARMSTART.
	h.eng.Apply(intent.ModeSwitch)
	if h.eng.Mode() != runmode.WarmStart {
		t.Errorf("mode = %v after leaving CALRTC with a commit, want WARMSTART", h.eng.Mode())
	}
	h.beatsUntil(16, runmode.Calibrate)
	if h.eng.Mode() != runmode.Calibrate {
		t.Errorf("mode = %v after forced recalibration warmup, want CALIBRATE", h.eng.Mode())
	}
}

func TestCalRTCExitWithoutCommit(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	h.eng.Apply(intent.ModeSwitch)
	h.eng.Apply(intent.ModeSwitch)
	if h.eng.Mode() != runmode.Run {
		t.Errorf("mode = %v after clean CALRTC round trip, want RUN", h.eng.Mode())
	}
}

func TestCalRTCFollowsRawOscillator(t *testing.T) {
	// 500 ppm skew: in CALRTC the displayed clock must follow the raw
	// reference intervals, not the calibrated beat duration.
	h := runHarness(t, sim.BendulumConfig{SkewPPM: 500})

	h.eng.Apply(intent.ModeSwitch)
	h.movement.Micros = 0

	var raw int64
	for i := 0; i < 10; i++ {
		b, _ := h.bend.PollBeat()
		raw += b.Duration.Microseconds()
		h.eng.ProcessBeat(b)
	}
	if diff := h.movement.Micros - raw; diff < -10 || diff > 10 {
		t.Errorf("CALRTC advance = %d µs, want raw interval %d ±10", h.movement.Micros, raw)
	}
}

func TestCancelNeverPersists(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	// Delivered through the intent source to exercise the poll path.
	h.intents.Push(intent.EnableAdjust, intent.IncreasePending,
		intent.IncreasePending, intent.Cancel)
	for i := 0; i < 4; i++ {
		h.eng.Step()
	}

	if h.eng.Pending() != 0 {
		t.Errorf("pending = %d after cancel, want 0", h.eng.Pending())
	}
	if h.store.Saves != 0 {
		t.Errorf("cancel caused %d settings writes, want 0", h.store.Saves)
	}
	if h.movement.Cancels != 1 {
		t.Errorf("drive cancellations = %d, want 1", h.movement.Cancels)
	}

	// Toggling off afterwards must not commit the canceled value either.
	h.eng.Apply(intent.EnableAdjust)
	if h.store.Saves != 0 {
		t.Errorf("toggle off after cancel caused %d settings writes, want 0", h.store.Saves)
	}
}

func TestCancelInCalRTCWithoutPendingExits(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	h.eng.Apply(intent.ModeSwitch)
	h.eng.Apply(intent.Cancel)
	if h.eng.Mode() != runmode.Run {
		t.Errorf("mode = %v after cancel with nothing pending, want RUN", h.eng.Mode())
	}
}

func TestDisarmedIntentsAreNoOps(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	h.eng.Apply(intent.IncreasePending)
	h.eng.Apply(intent.DecreasePending)
	h.eng.Apply(intent.StepUp)
	h.eng.Apply(intent.Advance)
	h.eng.Apply(intent.Pause)

	if h.eng.Pending() != 0 {
		t.Errorf("pending = %d after disarmed intents, want 0", h.eng.Pending())
	}
	if n := h.movement.MicrosCommands + h.movement.SecondsCommands; n != 0 {
		t.Errorf("disarmed pause/advance issued %d drive commands, want 0", n)
	}
}

func TestDisplayStepOverflowBoundary(t *testing.T) {
	h := runHarness(t, sim.BendulumConfig{})

	// Default step is 0.1 s: driven in microseconds.
	h.eng.Apply(intent.EnableAdjust)
	h.eng.Apply(intent.Advance)
	if h.movement.LastMicros != 100000 {
		t.Errorf("advance drove %d µs, want 100000", h.movement.LastMicros)
	}

	// Step down wraps to the 1 hr step (36000 tenths): past the 32-bit
	// microsecond boundary, driven in whole seconds.
	h.eng.Apply(intent.StepDown)
	h.eng.Apply(intent.Advance)
	h.eng.Apply(intent.Pause)
	if h.movement.SecondsCommands != 2 {
		t.Fatalf("whole-second drive commands = %d, want 2", h.movement.SecondsCommands)
	}
	if h.movement.LastSeconds != -3600 {
		t.Errorf("pause drove %d s, want -3600", h.movement.LastSeconds)
	}
}
