// v0
// internal/dts/decoder.go
package dts

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"nrgchamp/sensorcore/internal/sensor"
)

// ErrMalformedCapture marks a register field holding anything but '0'/'1'.
var ErrMalformedCapture = errors.New("malformed capture")

// Samples maps a sensor name to its decoded values, one per repetition.
// Index 0 holds the repetition nearest the end of the capture.
type Samples map[string][]float64

// Count returns the total number of decoded values across all sensors.
func (s Samples) Count() int {
	n := 0
	for _, v := range s {
		n += len(v)
	}
	return n
}

// Decode slices a shift-register capture into per-sensor register fields.
//
// Repetitions are read backward from the end of the capture: the newest data
// sits nearest the end. In last-only mode the single repetition is anchored
// to len(capture); otherwise every full repetition is read and the layout is
// anchored to reps*chainWidth, so trailing partial bits are ignored. A capture
// shorter than one repetition, or a disabled configuration, decodes to an
// empty set without error.
func Decode(capture string, cfg sensor.Configuration) (Samples, error) {
	out := Samples{}
	if !cfg.Enabled {
		return out, nil
	}
	if err := cfg.ValidateLayout(); err != nil {
		return nil, err
	}
	chain := cfg.ChainWidth()
	total := len(capture) / chain
	if total < 1 {
		return out, nil
	}
	reps, anchor := total, total*chain
	if cfg.UseLastOnly {
		reps, anchor = 1, len(capture)
	}
	width := cfg.RegisterSize
	for i := 0; i < reps; i++ {
		for j, name := range cfg.Sensors {
			pos := anchor - (i+1)*chain + j*width
			raw, err := parseField(capture[pos:pos+width], cfg.Encoding)
			if err != nil {
				return nil, fmt.Errorf("%s: sensor %s repetition %d bit %d: %w", cfg.Name, name, i, pos, err)
			}
			out[name] = append(out[name], float64(raw)*cfg.Slope+cfg.Offset)
		}
	}
	return out, nil
}

// parseField bit-reverses a register field and converts it to an integer.
func parseField(field string, enc sensor.Encoding) (int64, error) {
	n := len(field)
	rev := make([]byte, n)
	for i := 0; i < n; i++ {
		c := field[n-1-i]
		if c != '0' && c != '1' {
			return 0, fmt.Errorf("%w: unexpected %q", ErrMalformedCapture, c)
		}
		rev[i] = c
	}
	u, err := strconv.ParseUint(string(rev), 2, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedCapture, err)
	}
	if enc == sensor.EncodingTwos && rev[0] == '1' {
		if n == 64 {
			return int64(u), nil
		}
		return int64(u) - int64(1)<<uint(n), nil
	}
	if n == 64 && u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: unsigned field overflows int64", ErrMalformedCapture)
	}
	return int64(u), nil
}

// EncodeField maps an engineering value back to the bit-reversed register
// field Decode would read it from. The value is quantized to the nearest code.
func EncodeField(value float64, cfg sensor.Configuration) (string, error) {
	if cfg.Slope == 0 {
		return "", fmt.Errorf("%s: slope must be non-zero to encode", cfg.Name)
	}
	width := cfg.RegisterSize
	code := math.Round((value - cfg.Offset) / cfg.Slope)
	lo, hi := 0.0, math.Pow(2, float64(width))-1
	if cfg.Encoding == sensor.EncodingTwos {
		lo, hi = -math.Pow(2, float64(width-1)), math.Pow(2, float64(width-1))-1
	}
	if code < lo || code > hi {
		return "", fmt.Errorf("%s: value %g (code %g) outside %d-bit register", cfg.Name, value, code, width)
	}
	var u uint64
	if code < 0 {
		u = uint64(int64(code)) & (uint64(1)<<uint(width) - 1)
	} else {
		u = uint64(code)
	}
	bits := strconv.FormatUint(u, 2)
	if len(bits) < width {
		bits = strings.Repeat("0", width-len(bits)) + bits
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = bits[width-1-i]
	}
	return string(out), nil
}

// Encode builds a capture holding one repetition per value index. Every
// configured sensor needs the same number of values; index 0 is written
// nearest the end of the capture, matching Decode's ordering.
func Encode(values Samples, cfg sensor.Configuration) (string, error) {
	if err := cfg.ValidateLayout(); err != nil {
		return "", err
	}
	reps := -1
	for _, name := range cfg.Sensors {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("%s: no values for sensor %s", cfg.Name, name)
		}
		if reps >= 0 && len(v) != reps {
			return "", fmt.Errorf("%s: sensor %s has %d values, expected %d", cfg.Name, name, len(v), reps)
		}
		reps = len(v)
	}
	chain := cfg.ChainWidth()
	buf := make([]byte, reps*chain)
	for i := 0; i < reps; i++ {
		base := (reps - 1 - i) * chain
		for j, name := range cfg.Sensors {
			field, err := EncodeField(values[name][i], cfg)
			if err != nil {
				return "", err
			}
			copy(buf[base+j*cfg.RegisterSize:], field)
		}
	}
	return string(buf), nil
}
