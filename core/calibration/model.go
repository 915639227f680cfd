package calibration

import (
	"time"

	"example.com/bendulum-clock/core/settings"
)

const (
	// DefaultTargetSamples is the sample count at which a bucket is
	// considered complete and eligible for the regression.
	DefaultTargetSamples = 30

	// maxSmoothingWeight caps the divisor of the exponential smoother.
	// Weights keep growing with the sample count up to this cap, so a
	// revisited bucket refines slowly but is never frozen.
	maxSmoothingWeight = 32
)

// Model is the beat-duration calibration model. The non-compensated variant
// keeps one scalar estimate; the compensated variant keeps one estimate per
// temperature bucket and falls back to a least-squares line over complete
// buckets where direct samples are missing.
type Model struct {
	temperatureCompensated bool
	targetSamples          int32

	scalar        int64 // microseconds per beat
	scalarSamples int32

	buckets [settings.BucketCount]settings.Bucket
}

func NewModel(temperatureCompensated bool, targetSamples int) *Model {
	if targetSamples <= 0 {
		targetSamples = DefaultTargetSamples
	}
	return &Model{
		temperatureCompensated: temperatureCompensated,
		targetSamples:          int32(targetSamples),
	}
}

// LoadFrom adopts the persisted calibration state.
func (m *Model) LoadFrom(s *settings.Settings) {
	m.scalar = s.USPB
	if s.USPB != 0 {
		m.scalarSamples = m.targetSamples
	} else {
		m.scalarSamples = 0
	}
	m.buckets = s.Buckets
}

// StoreTo writes the calibration state into the settings record.
func (m *Model) StoreTo(s *settings.Settings) {
	s.USPB = m.scalar
	s.Buckets = m.buckets
}

func smooth(value int64, samples int32, sample int64) int64 {
	w := int64(samples) + 1
	if w > maxSmoothingWeight {
		w = maxSmoothingWeight
	}
	return value + (sample-value)/w
}

// AddSample folds one beat measurement into the model. d is the bias-corrected
// beat duration; tempC is ignored by the non-compensated variant.
func (m *Model) AddSample(tempC float64, d time.Duration) {
	us := d.Microseconds()
	m.scalar = smooth(m.scalar, m.scalarSamples, us)
	if m.scalarSamples < m.targetSamples {
		m.scalarSamples++
	}
	if !m.temperatureCompensated {
		return
	}
	i := settings.BucketIndex(tempC)
	b := &m.buckets[i]
	b.USPB = smooth(b.USPB, b.Samples, us)
	if b.Samples < 1<<30 {
		b.Samples++
	}
}

func (m *Model) complete(b *settings.Bucket) bool {
	return b.Samples >= m.targetSamples
}

// Fit computes the least-squares temperature→duration line over all complete
// buckets. ErrInsufficientData is returned when fewer than two complete
// buckets exist.
func (m *Model) Fit() (slope, intercept float64, err error) {
	var ls LeastSquares
	for i := range m.buckets {
		b := &m.buckets[i]
		if m.complete(b) {
			ls.Add(settings.BucketCenter(i), float64(b.USPB))
		}
	}
	return ls.Fit()
}

// Estimate returns the calibrated beat duration at tempC. A complete matching
// bucket wins; otherwise the regression over complete buckets; otherwise the
// mean over all sampled buckets; otherwise ErrInsufficientData.
func (m *Model) Estimate(tempC float64) (time.Duration, error) {
	if !m.temperatureCompensated {
		if m.scalarSamples == 0 {
			return 0, ErrInsufficientData
		}
		return time.Duration(m.scalar) * time.Microsecond, nil
	}
	b := &m.buckets[settings.BucketIndex(tempC)]
	if m.complete(b) {
		return time.Duration(b.USPB) * time.Microsecond, nil
	}
	slope, intercept, err := m.Fit()
	if err == nil {
		us := slope*tempC + intercept
		return time.Duration(us) * time.Microsecond, nil
	}
	var sum, n int64
	for i := range m.buckets {
		if m.buckets[i].Samples > 0 {
			sum += m.buckets[i].USPB
			n++
		}
	}
	if n == 0 {
		return 0, ErrInsufficientData
	}
	return time.Duration(sum/n) * time.Microsecond, nil
}

// Calibrated reports whether the model can produce any estimate at all.
func (m *Model) Calibrated() bool {
	if !m.temperatureCompensated {
		return m.scalarSamples > 0
	}
	for i := range m.buckets {
		if m.buckets[i].Samples > 0 {
			return true
		}
	}
	return false
}

// Complete reports whether enough direct samples exist that a fresh
// calibration pass can be skipped: the non-compensated scalar is refined, or
// at least two buckets are complete so the regression covers the rest.
func (m *Model) Complete() bool {
	if !m.temperatureCompensated {
		return m.scalarSamples >= m.targetSamples
	}
	n := 0
	for i := range m.buckets {
		if m.complete(&m.buckets[i]) {
			n++
		}
	}
	return n >= 2
}
