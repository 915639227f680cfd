package timemath

import (
	"math"
	"slices"
	"time"
)

// Adjustment rates are expressed in tenths of a second per day throughout the
// engine. One day contains 864000 tenths, so a rate r applied to an elapsed
// interval d corrects it by the fraction r/864000 of d.
const TenthsPerDay = 864000

// Tenth is the unit of the manual adjustment step table.
const Tenth = 100 * time.Millisecond

// MicrosSafeTenths is the largest step magnitude, in tenths of a second,
// whose microsecond equivalent still fits a signed 32-bit value. Drive
// commands above this magnitude must be issued in whole seconds.
const MicrosSafeTenths = 21474

// AccumulationThreshold is the minimum amount of uncorrected elapsed time
// that must accumulate before a clock advance is issued to the movement.
const AccumulationThreshold = 500 * time.Millisecond

func Seconds(d time.Duration) float64 {
	return float64(d) / float64(time.Second)
}

func Abs(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		panic("unexpected duration value")
	}
	if d < 0 {
		return -d
	}
	return d
}

func Inv(d time.Duration) time.Duration {
	if d == math.MinInt64 {
		panic("unexpected duration value")
	}
	return -d
}

func TenthsToDuration(tenths int64) time.Duration {
	return time.Duration(tenths) * Tenth
}

func Midpoint(x, y time.Duration) time.Duration {
	return x + (y-x)/2.0
}

func Median(ds []time.Duration) time.Duration {
	n := len(ds)
	if n == 0 {
		panic("unexpected number of values")
	}
	slices.Sort(ds)
	i := n / 2
	if n%2 != 0 {
		return ds[i]
	}
	return Midpoint(ds[i-1], ds[i])
}

// floorDiv divides a by b rounding toward negative infinity. b must be
// positive. Go's integer division truncates toward zero, which would round
// negative corrections in the wrong direction.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// ApplyBias corrects the elapsed interval d by the rate bias, given in tenths
// of a second per day. Positive bias lengthens the interval, which makes the
// displayed clock run faster. Rounding is half-up on the microsecond, for
// positive and negative bias alike:
//
//	corrected = d + floor((bias*µs(d) + 432000) / 864000) µs
//
// d must be non-negative.
func ApplyBias(bias int64, d time.Duration) time.Duration {
	if d < 0 {
		panic("unexpected negative interval")
	}
	us := d.Microseconds()
	corr := floorDiv(bias*us+TenthsPerDay/2, TenthsPerDay)
	return d + time.Duration(corr)*time.Microsecond
}
