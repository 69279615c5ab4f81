// v0
// internal/fit/linear.go
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nrgchamp/sensorcore/internal/decimal"
)

var (
	// ErrDimensionMismatch is returned when x and y differ in length.
	ErrDimensionMismatch = errors.New("x and y dimension mismatch")
	// ErrDegenerateFit is returned when the normal equations are singular.
	ErrDegenerateFit = errors.New("degenerate fit: determinant is zero")
)

// Register quantization scales. Only the offset carries a separate sign bit;
// the register stores magnitudes, and the slope is assumed non-negative.
const (
	SlopeScale  = 256
	OffsetScale = 200
)

// Result is a least-squares line quantized for a DAC trim register.
type Result struct {
	Points     int     `json:"points"`
	Slope      float64 `json:"slope"`
	Offset     float64 `json:"offset"`
	RSquared   float64 `json:"rSquared"`
	SlopeCode  int64   `json:"slopeCode"`
	OffsetCode int64   `json:"offsetCode"`
	OffsetSign int     `json:"offsetSign"`
}

// Linear fits y = slope*x + offset by ordinary least squares.
//
// Slope and offset are rounded to 3 places and R² to 5, half away from zero.
// R² is exactly 1 when y has no variance or only two points were given.
func Linear(x, y []float64) (Result, error) {
	if len(x) != len(y) {
		return Result{}, fmt.Errorf("%w: %d x values, %d y values", ErrDimensionMismatch, len(x), len(y))
	}
	n := float64(len(x))
	if len(x) < 2 || constant(x) {
		return Result{}, fmt.Errorf("%w (n=%d)", ErrDegenerateFit, len(x))
	}
	// Centred sums, det = n*Σ(x-mx)².
	mx := floats.Sum(x) / n
	my := floats.Sum(y) / n
	var sxx, sxy float64
	for i := range x {
		dx := x[i] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	if det := n * sxx; det == 0 {
		return Result{}, fmt.Errorf("%w (n=%d)", ErrDegenerateFit, len(x))
	}
	slope := sxy / sxx
	offset := my - slope*mx

	res := Result{
		Points: len(x),
		Slope:  decimal.Round(slope, 3),
		Offset: decimal.Round(offset, 3),
	}
	res.RSquared = rSquared(x, y, slope, offset)
	res.SlopeCode = ceilCode(res.Slope, SlopeScale)
	res.OffsetCode = ceilCode(res.Offset, OffsetScale)
	if res.Offset < 0 {
		res.OffsetSign = 1
	}
	return res, nil
}

func rSquared(x, y []float64, slope, offset float64) float64 {
	if len(y) == 2 {
		return 1
	}
	mean := stat.Mean(y, nil)
	var sst float64
	for _, v := range y {
		sst += (v - mean) * (v - mean)
	}
	if sst == 0 {
		return 1
	}
	return decimal.Round(stat.RSquared(x, y, nil, offset, slope), 5)
}

// constant reports whether every x is identical, the exact condition for a
// zero determinant.
func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

// ceilCode scales v and rounds up. The product is first snapped to 9 places
// so 0.355*200 yields 71, not 72 from a trailing binary fraction.
func ceilCode(v float64, scale float64) int64 {
	return int64(math.Ceil(decimal.Round(v*scale, 9)))
}
