// v0
// internal/record/format_test.go
package record

import (
	"strings"
	"testing"

	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/fit"
	"nrgchamp/sensorcore/internal/sensor"
)

func formatConfig(lastOnly bool) sensor.Configuration {
	return sensor.Configuration{
		Name:         "dts",
		Enabled:      true,
		Pin:          "TDO",
		Sensors:      []string{"A", "B", "C"},
		RegisterSize: 8,
		Slope:        1,
		UseLastOnly:  lastOnly,
	}
}

func TestSummaryLastOnly(t *testing.T) {
	got := Summary(dts.Samples{"A": {1.005}}, formatConfig(true))
	if got != "A:1.01" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestSummaryReductions(t *testing.T) {
	samples := dts.Samples{
		"A": {3, 1, 2},
		"B": {42.125},
		"C": {-1.5, 1.5},
	}
	got := Summary(samples, formatConfig(false))
	want := "A:1.00,2.00,3.00|B:42.13|C:-1.50,0.00,1.50"
	if got != want {
		t.Fatalf("summary %q want %q", got, want)
	}
	if strings.HasSuffix(got, "|") {
		t.Fatalf("trailing delimiter not trimmed")
	}
}

func TestSummaryFollowsConfiguredOrderAndSkipsMissing(t *testing.T) {
	got := Summary(dts.Samples{"C": {1}, "A": {2}}, formatConfig(true))
	if got != "A:2.00|C:1.00" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := Summary(dts.Samples{}, formatConfig(false)); got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestRaw(t *testing.T) {
	got := Raw(dts.Samples{"A": {1, 2.5}, "B": {-3}}, formatConfig(false))
	if got != "A:1.00,2.50|B:-3.00" {
		t.Fatalf("unexpected raw %q", got)
	}
}

func TestWantsCompressedRaw(t *testing.T) {
	cfg := formatConfig(false)
	if WantsCompressedRaw(cfg) {
		t.Fatalf("flag off must disable compressed raw")
	}
	cfg.CompressedDatalog = true
	if !WantsCompressedRaw(cfg) {
		t.Fatalf("expected compressed raw")
	}
	cfg.UseLastOnly = true
	if WantsCompressedRaw(cfg) {
		t.Fatalf("last-only must disable compressed raw")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	text := strings.Repeat("S0:85.25,85.50,86.00|S1:84.75,85.00,85.25|", 50)
	enc, err := Compress(text)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(enc) >= len(text) {
		t.Fatalf("expected repetitive text to shrink: %d >= %d", len(enc), len(text))
	}
	dec, err := Decompress(enc)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if dec != text {
		t.Fatalf("round trip mismatch")
	}
	if _, err := Decompress("not base64!"); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestFitRecord(t *testing.T) {
	r := fit.Result{Slope: 2, Offset: -1.5, RSquared: 0.99871, SlopeCode: 512, OffsetCode: -300, OffsetSign: 1}
	if got := FitRecord(r); got != "2.000|-1.500|0.99871|512|-300|1" {
		t.Fatalf("unexpected fit record %q", got)
	}
}

func TestTag(t *testing.T) {
	if got := Tag("DTS_X", "core", "", "RAW"); got != "DTS_X_core_RAW" {
		t.Fatalf("unexpected tag %q", got)
	}
}
