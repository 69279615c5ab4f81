// v0
// internal/decimal/decimal.go
package decimal

import (
	"math"
	"strconv"
	"strings"
)

// Format renders v with a fixed number of decimal places, rounding half away
// from zero on the shortest decimal representation of v. 1.005 therefore
// renders as "1.01" even though its binary value sits just below the tie.
func Format(v float64, places int) string {
	if places < 0 {
		places = 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', places, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) < places {
		frac += strings.Repeat("0", places-len(frac))
	}
	digits := []byte(intPart + frac[:places])
	if len(frac) > places && frac[places] >= '5' {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] == '9' {
				digits[i] = '0'
				continue
			}
			digits[i]++
			break
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}
	split := len(digits) - places
	out := string(digits[:split])
	if places > 0 {
		out += "." + string(digits[split:])
	}
	if neg && strings.Trim(string(digits), "0") != "" {
		out = "-" + out
	}
	return out
}

// Round returns v rounded half away from zero to the given number of places.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(Format(v, places), 64)
	if err != nil {
		return v
	}
	return r
}
