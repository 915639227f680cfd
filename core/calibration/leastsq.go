package calibration

import (
	"errors"
)

// ErrInsufficientData is reported when a regression has no meaningful fit:
// fewer than two points, or all points sharing one x coordinate. Callers can
// always tell "no fit" apart from a fit whose slope happens to be near zero.
var ErrInsufficientData = errors.New("insufficient calibration data")

// LeastSquares accumulates running sums for an ordinary least-squares line
// fit y = slope*x + intercept.
type LeastSquares struct {
	n                int
	sx, sy, sxx, sxy float64
}

func (ls *LeastSquares) Add(x, y float64) {
	ls.n++
	ls.sx += x
	ls.sy += y
	ls.sxx += x * x
	ls.sxy += x * y
}

func (ls *LeastSquares) Reset() {
	*ls = LeastSquares{}
}

func (ls *LeastSquares) Len() int {
	return ls.n
}

func (ls *LeastSquares) Fit() (slope, intercept float64, err error) {
	if ls.n < 2 {
		return 0, 0, ErrInsufficientData
	}
	n := float64(ls.n)
	den := n*ls.sxx - ls.sx*ls.sx
	if den == 0 {
		return 0, 0, ErrInsufficientData
	}
	slope = (n*ls.sxy - ls.sx*ls.sy) / den
	intercept = (ls.sy - slope*ls.sx) / n
	return slope, intercept, nil
}
