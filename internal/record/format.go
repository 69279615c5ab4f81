// v0
// internal/record/format.go
package record

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"nrgchamp/sensorcore/internal/decimal"
	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/fit"
	"nrgchamp/sensorcore/internal/sensor"
)

const (
	fieldSep  = "|"
	valueSep  = ","
	samplePrc = 2
)

// Summary reduces each sensor to a pipe-delimited segment:
//
//	name:last           last-only mode
//	name:max            a single sample
//	name:min,avg,max    otherwise
//
// Values carry two decimals. Sensors follow the configured order.
func Summary(samples dts.Samples, cfg sensor.Configuration) string {
	var b strings.Builder
	for _, name := range cfg.Sensors {
		values := samples[name]
		if len(values) == 0 {
			continue
		}
		b.WriteString(name)
		b.WriteByte(':')
		switch {
		case cfg.UseLastOnly:
			b.WriteString(decimal.Format(values[len(values)-1], samplePrc))
		case len(values) == 1:
			b.WriteString(decimal.Format(floats.Max(values), samplePrc))
		default:
			b.WriteString(decimal.Format(floats.Min(values), samplePrc))
			b.WriteString(valueSep)
			b.WriteString(decimal.Format(stat.Mean(values, nil), samplePrc))
			b.WriteString(valueSep)
			b.WriteString(decimal.Format(floats.Max(values), samplePrc))
		}
		b.WriteString(fieldSep)
	}
	return strings.TrimSuffix(b.String(), fieldSep)
}

// Raw lists every sample per sensor without reduction.
func Raw(samples dts.Samples, cfg sensor.Configuration) string {
	segments := make([]string, 0, len(cfg.Sensors))
	for _, name := range cfg.Sensors {
		values := samples[name]
		if len(values) == 0 {
			continue
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = decimal.Format(v, samplePrc)
		}
		segments = append(segments, name+":"+strings.Join(parts, valueSep))
	}
	return strings.Join(segments, fieldSep)
}

// WantsCompressedRaw reports whether the compressed raw entry is produced.
func WantsCompressedRaw(cfg sensor.Configuration) bool {
	return !cfg.UseLastOnly && cfg.CompressedDatalog
}

// FitRecord renders a fit as slope|offset|r2|slope_code|offset_code|sign.
func FitRecord(r fit.Result) string {
	return strings.Join([]string{
		decimal.Format(r.Slope, 3),
		decimal.Format(r.Offset, 3),
		decimal.Format(r.RSquared, 5),
		strconv.FormatInt(r.SlopeCode, 10),
		strconv.FormatInt(r.OffsetCode, 10),
		strconv.Itoa(r.OffsetSign),
	}, fieldSep)
}
