package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"example.com/bendulum-clock/base/timebase"
	"example.com/bendulum-clock/base/timemath"
	"example.com/bendulum-clock/core/calibration"
	"example.com/bendulum-clock/core/intent"
	"example.com/bendulum-clock/core/ledger"
	"example.com/bendulum-clock/core/runmode"
	"example.com/bendulum-clock/core/settings"
)

// beatFilterLen is the window of the median prefilter applied to corrected
// beat durations before they reach the calibration model. It rejects single
// spurious detections without delaying the estimate noticeably.
const beatFilterLen = 3

// Engine owns all mutable timekeeping state: the persisted settings, the run
// mode, the calibration model and the adjustment ledger. It is single-owner
// by construction; every mutation happens on the control loop.
type Engine struct {
	log *zap.Logger
	cfg Config
	clk timebase.LocalClock

	osc      Oscillator
	act      Actuator
	store    Store
	intents  IntentSource
	feedback Feedback

	mode     runmode.Mode
	settings settings.Settings
	model    *calibration.Model
	ledger   ledger.Ledger

	settleCount    int
	scaleStable    int
	calBeats       int
	lastRate       float64
	convergedRun   int
	forceCalibrate bool
	rtcCommitted   bool

	recentBeats []time.Duration

	corrAccum   time.Duration
	uncorrAccum time.Duration

	mtr *engineMetrics
}

// New constructs the engine and loads persisted settings. An invalid or
// missing record, or a forced cold start, selects defaults and COLDSTART;
// a valid record selects WARMSTART.
func New(log *zap.Logger, clk timebase.LocalClock, cfg Config,
	osc Oscillator, act Actuator, store Store,
	intents IntentSource, feedback Feedback) *Engine {

	cfg = cfg.withDefaults()
	e := &Engine{
		log:      log,
		cfg:      cfg,
		clk:      clk,
		osc:      osc,
		act:      act,
		store:    store,
		intents:  intents,
		feedback: feedback,
		model:    calibration.NewModel(cfg.TemperatureCompensated, cfg.CalibrationTargetSamples),
	}

	s, err := store.Load()
	if err != nil || !s.Valid() || cfg.ColdStart {
		if err != nil {
			log.Warn("failed to load settings", zap.Error(err))
		}
		e.settings = settings.Default()
		e.mode = runmode.ColdStart
		log.Info("starting cold", zap.Bool("forced", cfg.ColdStart))
	} else {
		e.settings = s
		e.model.LoadFrom(&e.settings)
		e.mode = runmode.WarmStart
		log.Info("starting warm",
			zap.Int32("rtcBias", s.RTCBias),
			zap.Int32("speedAdj", s.SpeedAdj),
			zap.Int32("peakScale", s.PeakScale),
			zap.Duration("beatDuration", s.BeatDuration()),
		)
	}
	feedback.Mode(e.mode)
	return e
}

func (e *Engine) Mode() runmode.Mode {
	return e.mode
}

// Settings returns a copy of the current settings record.
func (e *Engine) Settings() settings.Settings {
	return e.settings
}

// Pending exposes the ledger's pending adjustment, in tenths of a second.
func (e *Engine) Pending() int64 {
	return e.ledger.Pending()
}

// Run executes the control loop until the context is canceled. Each
// iteration fully processes at most one beat before the next polled intent
// is applied; a commit, including its persistence write, therefore always
// completes before a subsequent beat reads the just-written bias.
func (e *Engine) Run(ctx context.Context) error {
	e.mtr = newEngineMetrics()
	e.log.Info("engine running",
		zap.Bool("temperatureCompensated", e.cfg.TemperatureCompensated),
		zap.Bool("rtcCalibration", e.cfg.SupportsRTCCalibration),
		zap.Stringer("mode", e.mode),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.Step()
		e.clk.Sleep(e.cfg.PollInterval)
	}
}

// Step runs one poll iteration: beat first, then at most one intent.
func (e *Engine) Step() {
	if b, ok := e.osc.PollBeat(); ok {
		e.ProcessBeat(b)
	}
	if i, ok := e.intents.PollIntent(); ok {
		e.Apply(i)
	}
}

func (e *Engine) setMode(m runmode.Mode) {
	if m == e.mode {
		return
	}
	e.log.Info("run mode transition", zap.Stringer("from", e.mode), zap.Stringer("to", m))
	e.mode = m
	e.feedback.Mode(m)
	if e.mtr != nil {
		e.mtr.runMode.Set(float64(m))
	}
}

// needsScale reports whether peak-sensitivity tuning has never produced a
// value; zero means uncalibrated.
func (e *Engine) needsScale() bool {
	return e.settings.PeakScale == 0
}

// ProcessBeat advances the state machine by one beat event.
func (e *Engine) ProcessBeat(b Beat) {
	if e.mtr != nil {
		e.mtr.beatsProcessed.Inc()
		e.mtr.beatInterval.Set(float64(b.Duration.Microseconds()))
	}
	switch e.mode {
	case runmode.ColdStart:
		// The oscillator is producing beats; none are trusted yet.
		if e.cfg.TemperatureCompensated {
			e.setMode(runmode.WarmStart)
		} else {
			e.setMode(runmode.Scale)
		}
	case runmode.WarmStart:
		e.settleCount++
		if e.settleCount < e.cfg.SettleBeats {
			return
		}
		e.settleCount = 0
		switch {
		case e.needsScale():
			e.setMode(runmode.Scale)
		case e.forceCalibrate || !e.model.Complete():
			e.startCalibration()
		default:
			e.setMode(runmode.Run)
		}
	case runmode.Settle:
		e.settleCount++
		if e.settleCount < e.cfg.SettleBeats {
			return
		}
		e.settleCount = 0
		e.startCalibration()
	case runmode.Scale:
		next, stable := e.osc.TuneScale(int(e.settings.PeakScale))
		e.settings.PeakScale = int32(next)
		if stable {
			e.scaleStable++
		} else {
			e.scaleStable = 0
		}
		if e.scaleStable >= e.cfg.ScaleStableBeats {
			e.scaleStable = 0
			e.setMode(runmode.Settle)
		}
	case runmode.Calibrate:
		d := e.filteredDuration(timemath.ApplyBias(int64(e.settings.RTCBias), b.Duration))
		e.model.AddSample(b.TemperatureC, d)
		e.calBeats++
		e.trackConvergence(b.TemperatureC)
		if e.calBeats >= e.cfg.CalibrationMaxBeats ||
			(e.calBeats >= e.cfg.CalibrationMinBeats && e.convergedRun >= e.cfg.ConvergenceRun) {
			e.setMode(runmode.CalFinish)
			e.finishCalibration()
		}
	case runmode.CalFinish:
		// Normally finished synchronously from CALIBRATE; a beat arriving
		// here completes the pass the same way.
		e.finishCalibration()
	case runmode.Run:
		d := e.filteredDuration(timemath.ApplyBias(int64(e.settings.RTCBias), b.Duration))
		e.model.AddSample(b.TemperatureC, d)
		est, err := e.model.Estimate(b.TemperatureC)
		if err != nil {
			// Run with the corrected measurement until recalibrated.
			est = d
		}
		adv := timemath.ApplyBias(int64(e.settings.SpeedAdj), est)
		e.accumulate(adv, b.Duration)
	case runmode.CalRTC:
		// The bendulum is bypassed: the displayed clock follows the raw
		// reference oscillator so its bias can be compared and adjusted.
		e.accumulate(b.Duration, b.Duration)
	}
}

func (e *Engine) startCalibration() {
	e.calBeats = 0
	e.lastRate = 0
	e.convergedRun = 0
	e.forceCalibrate = false
	e.recentBeats = e.recentBeats[:0]
	e.setMode(runmode.Calibrate)
}

// filteredDuration pushes d through the median prefilter.
func (e *Engine) filteredDuration(d time.Duration) time.Duration {
	if len(e.recentBeats) == beatFilterLen {
		copy(e.recentBeats, e.recentBeats[1:])
		e.recentBeats = e.recentBeats[:beatFilterLen-1]
	}
	e.recentBeats = append(e.recentBeats, d)
	w := make([]time.Duration, len(e.recentBeats))
	copy(w, e.recentBeats)
	return timemath.Median(w)
}

func (e *Engine) trackConvergence(tempC float64) {
	est, err := e.model.Estimate(tempC)
	if err != nil || est <= 0 {
		return
	}
	rate := 60.0 / timemath.Seconds(est) // beats per minute
	if e.lastRate > 0 {
		if math.Abs(rate-e.lastRate)/e.lastRate <= e.cfg.ConvergenceTolerance {
			e.convergedRun++
		} else {
			e.convergedRun = 0
		}
	}
	e.lastRate = rate
}

// finishCalibration persists the refined model. This and the ledger commit
// are the only writers of the settings store.
func (e *Engine) finishCalibration() {
	e.model.StoreTo(&e.settings)
	e.settings.Tag = settings.ValidityTag
	e.save()
	e.log.Info("calibration finished",
		zap.Int("beats", e.calBeats),
		zap.Int64("uspb", e.settings.USPB),
		zap.Float64("bpm", e.lastRate),
	)
	e.setMode(runmode.Run)
}

func (e *Engine) save() {
	err := e.store.Save(e.settings)
	if err != nil {
		// Not fatal: the engine keeps running on in-memory state.
		e.log.Error("failed to save settings", zap.Error(err))
		return
	}
	if e.mtr != nil {
		e.mtr.storeSaves.Inc()
	}
}

// accumulate batches clock advances: corrected time is summed until at least
// the threshold of uncorrected time has passed, then issued as one drive
// command. Sub-microsecond residue carries over.
func (e *Engine) accumulate(corrected, uncorrected time.Duration) {
	e.corrAccum += corrected
	e.uncorrAccum += uncorrected
	if e.uncorrAccum < timemath.AccumulationThreshold {
		return
	}
	us := e.corrAccum.Microseconds()
	elapsed := e.uncorrAccum.Microseconds()
	e.act.DriveMicros(us)
	e.corrAccum -= time.Duration(us) * time.Microsecond
	e.uncorrAccum = 0
	if e.mtr != nil {
		e.mtr.advances.Inc()
		e.mtr.correction.Set(float64(us - elapsed))
	}
}

// Apply handles one resolved user intent. Every intent has a handler; the
// no-op cases are deliberate (see the ledger's armed-window rule).
func (e *Engine) Apply(i intent.Intent) {
	switch i {
	case intent.EnableAdjust:
		pending, target, commit := e.ledger.Toggle()
		if commit {
			e.commit(pending, target)
		}
		e.feedback.Flash()
	case intent.StepUp:
		e.ledger.StepUp()
		e.flashIfArmed()
	case intent.StepDown:
		e.ledger.StepDown()
		e.flashIfArmed()
	case intent.IncreasePending:
		e.ledger.Increase()
		e.flashIfArmed()
	case intent.DecreasePending:
		e.ledger.Decrease()
		e.flashIfArmed()
	case intent.Pause:
		e.driveStep(-1)
	case intent.Advance:
		e.driveStep(+1)
	case intent.Cancel:
		hadPending := e.ledger.Pending() != 0
		e.ledger.Cancel()
		e.act.CancelDrive()
		e.feedback.Flash()
		if e.mode == runmode.CalRTC && !hadPending {
			e.exitCalRTC()
		}
	case intent.ModeSwitch:
		if !e.cfg.SupportsRTCCalibration {
			e.log.Debug("mode switch ignored, rtc calibration not supported")
			return
		}
		switch e.mode {
		case runmode.Run:
			e.enterCalRTC()
		case runmode.CalRTC:
			e.exitCalRTC()
		default:
			e.log.Debug("mode switch ignored", zap.Stringer("mode", e.mode))
		}
	}
	if e.mtr != nil {
		e.mtr.ledgerPending.Set(float64(e.ledger.Pending()))
	}
}

func (e *Engine) flashIfArmed() {
	if e.ledger.Adjustable() {
		e.feedback.Flash()
	}
}

// driveStep issues an immediate display move of one step. Magnitudes past
// the 32-bit microsecond boundary are driven in whole seconds.
func (e *Engine) driveStep(sign int64) {
	if !e.ledger.Adjustable() {
		return
	}
	step := timemath.TenthsToDuration(e.ledger.StepTenths())
	if sign < 0 {
		step = timemath.Inv(step)
	}
	if timemath.Abs(step) > timemath.MicrosSafeTenths*timemath.Tenth {
		e.act.DriveSeconds(int64(step / time.Second))
	} else {
		e.act.DriveMicros(step.Microseconds())
	}
	e.feedback.Flash()
}

// commit folds a pending adjustment into the persisted field selected by the
// target and saves. Positive always means "displayed clock runs faster", on
// both paths.
func (e *Engine) commit(pending int64, target ledger.Target) {
	switch target {
	case ledger.TargetRTC:
		e.settings.RTCBias = int32(ledger.ClampRate(int64(e.settings.RTCBias) + pending))
		e.rtcCommitted = true
		e.log.Info("committed rtc bias adjustment",
			zap.Int64("pending", pending),
			zap.Int32("rtcBias", e.settings.RTCBias),
		)
	case ledger.TargetSpeed:
		e.settings.SpeedAdj = int32(ledger.ClampRate(int64(e.settings.SpeedAdj) + pending))
		e.log.Info("committed speed adjustment",
			zap.Int64("pending", pending),
			zap.Int32("speedAdj", e.settings.SpeedAdj),
		)
	}
	e.settings.Tag = settings.ValidityTag
	e.save()
	if e.mtr != nil {
		e.mtr.ledgerCommits.Inc()
	}
}

func (e *Engine) enterCalRTC() {
	e.flushAccumulators()
	e.rtcCommitted = false
	e.ledger.SetTargetRTC(true)
	e.setMode(runmode.CalRTC)
}

// exitCalRTC leaves RTC calibration. Time spent there does not represent
// real beats, so a committed bias change invalidates the beat model and
// forces a fresh calibration via WARMSTART; otherwise steady state resumes.
func (e *Engine) exitCalRTC() {
	e.flushAccumulators()
	e.ledger.SetTargetRTC(false)
	if e.rtcCommitted {
		e.forceCalibrate = true
		e.settleCount = 0
		e.setMode(runmode.WarmStart)
	} else {
		e.setMode(runmode.Run)
	}
}

func (e *Engine) flushAccumulators() {
	e.corrAccum = 0
	e.uncorrAccum = 0
	e.recentBeats = e.recentBeats[:0]
}
