package calibration_test

import (
	"testing"
	"time"

	"example.com/bendulum-clock/core/calibration"
	"example.com/bendulum-clock/core/settings"
)

const beat = 904000 * time.Microsecond

func TestScalarModel(t *testing.T) {
	m := calibration.NewModel(false, 4)

	_, err := m.Estimate(20)
	if err != calibration.ErrInsufficientData {
		t.Fatalf("Estimate on empty model: got %v, want ErrInsufficientData", err)
	}

	m.AddSample(20, beat)
	got, err := m.Estimate(20)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != beat {
		t.Errorf("first sample must be adopted exactly: got %v, want %v", got, beat)
	}

	for i := 0; i < 8; i++ {
		m.AddSample(20, beat+2*time.Millisecond)
	}
	got, _ = m.Estimate(20)
	if got <= beat || got > beat+2*time.Millisecond {
		t.Errorf("smoothed estimate %v outside (%v, %v]", got, beat, beat+2*time.Millisecond)
	}
	if !m.Complete() {
		t.Error("scalar model should be complete after reaching the sample target")
	}
}

func TestBucketEstimate(t *testing.T) {
	m := calibration.NewModel(true, 3)
	tempC := settings.BucketCenter(10)

	for i := 0; i < 3; i++ {
		m.AddSample(tempC, beat)
	}

	got, err := m.Estimate(tempC)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != beat {
		t.Errorf("Estimate = %v, want %v", got, beat)
	}
}

func TestRegressionFallback(t *testing.T) {
	m := calibration.NewModel(true, 2)

	// Complete two buckets 10 steps apart; the bucket between them stays
	// empty and must be served by the regression.
	lo, hi := 10, 20
	loT, hiT := settings.BucketCenter(lo), settings.BucketCenter(hi)
	for i := 0; i < 2; i++ {
		m.AddSample(loT, 904000*time.Microsecond)
		m.AddSample(hiT, 905000*time.Microsecond)
	}

	midT := settings.BucketCenter(15)
	got, err := m.Estimate(midT)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	want := 904500 * time.Microsecond
	if diff := got - want; diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("interpolated estimate = %v, want %v ±1µs", got, want)
	}

	slope, _, err := m.Fit()
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	wantSlope := 1000.0 / (hiT - loT)
	if slope < wantSlope-1e-6 || slope > wantSlope+1e-6 {
		t.Errorf("slope = %v, want %v", slope, wantSlope)
	}
}

func TestMeanFallback(t *testing.T) {
	// One incomplete bucket: no regression possible, but the model must
	// still produce its best guess rather than fail.
	m := calibration.NewModel(true, 5)
	m.AddSample(settings.BucketCenter(4), beat)

	got, err := m.Estimate(settings.BucketCenter(40))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != beat {
		t.Errorf("Estimate = %v, want %v", got, beat)
	}
	if !m.Calibrated() {
		t.Error("model with one sample must report calibrated")
	}
	if m.Complete() {
		t.Error("model with one incomplete bucket must not report complete")
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	m := calibration.NewModel(true, 2)
	for i := 0; i < 2; i++ {
		m.AddSample(settings.BucketCenter(10), beat)
		m.AddSample(settings.BucketCenter(20), beat+time.Millisecond)
	}

	var s settings.Settings
	m.StoreTo(&s)

	m2 := calibration.NewModel(true, 2)
	m2.LoadFrom(&s)
	if !m2.Complete() {
		t.Error("restored model lost its complete buckets")
	}
	got, err := m2.Estimate(settings.BucketCenter(10))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != beat {
		t.Errorf("restored estimate = %v, want %v", got, beat)
	}
}
