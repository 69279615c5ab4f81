// v0
// internal/dts/decoder_test.go
package dts

import (
	"errors"
	"strings"
	"testing"

	"nrgchamp/sensorcore/internal/sensor"
)

func oneSensor(width int) sensor.Configuration {
	return sensor.Configuration{
		Name:         "dts",
		Enabled:      true,
		Pin:          "TDO",
		Sensors:      []string{"S0"},
		RegisterSize: width,
		Slope:        1,
	}
}

func TestDecodeReversesFieldBits(t *testing.T) {
	got, err := Decode("00000001", oneSensor(8))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["S0"]) != 1 || got["S0"][0] != 128 {
		t.Fatalf("expected [128], got %v", got["S0"])
	}
}

func TestDecodeShortCaptureIsNoop(t *testing.T) {
	cfg := oneSensor(8)
	cfg.Sensors = []string{"A", "B"}
	for _, capture := range []string{"", "0101", "010101010101010"} {
		got, err := Decode(capture, cfg)
		if err != nil {
			t.Fatalf("capture %q: unexpected error %v", capture, err)
		}
		if len(got) != 0 {
			t.Fatalf("capture %q: expected no samples, got %v", capture, got)
		}
	}
}

func TestDecodeDisabledIsNoop(t *testing.T) {
	cfg := oneSensor(8)
	cfg.Enabled = false
	got, err := Decode("10000000", cfg)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty no-op, got %v err=%v", got, err)
	}
}

func TestDecodeRepetitionsNewestFirst(t *testing.T) {
	cfg := sensor.Configuration{
		Name:         "dts",
		Enabled:      true,
		Pin:          "TDO",
		Sensors:      []string{"A", "B"},
		RegisterSize: 4,
		Slope:        0.5,
		Offset:       -1,
	}
	// Two repetitions of [A,B]; fields are LSB first.
	// rep older: A=1 ("1000"), B=2 ("0100"); rep newer: A=3 ("1100"), B=4 ("0010").
	capture := "1000" + "0100" + "1100" + "0010"
	got, err := Decode(capture, cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantA := []float64{0.5, -0.5}
	wantB := []float64{1, 0}
	for i := range wantA {
		if got["A"][i] != wantA[i] || got["B"][i] != wantB[i] {
			t.Fatalf("unexpected samples: %v", got)
		}
	}

	cfg.UseLastOnly = true
	last, err := Decode(capture, cfg)
	if err != nil {
		t.Fatalf("decode last: %v", err)
	}
	if len(last["A"]) != 1 || last["A"][0] != 0.5 || last["B"][0] != 1 {
		t.Fatalf("unexpected last-only samples: %v", last)
	}
}

func TestDecodeAnchorsDifferWithTrailingBits(t *testing.T) {
	cfg := oneSensor(4)
	// One full repetition plus two trailing bits.
	capture := "1000" + "11"
	agg, err := Decode(capture, cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if agg["S0"][0] != 1 {
		t.Fatalf("aggregate mode must anchor to the full repetitions, got %v", agg["S0"])
	}
	cfg.UseLastOnly = true
	last, err := Decode(capture, cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// last four bits "0011" reversed "1100" = 12
	if last["S0"][0] != 12 {
		t.Fatalf("last-only mode must anchor to the capture end, got %v", last["S0"])
	}
}

func TestDecodeNeedsOnlyLayout(t *testing.T) {
	cfg := sensor.Configuration{Enabled: true, Sensors: []string{"0", "1"}, RegisterSize: 4, Slope: 1}
	got, err := Decode("10000100", cfg)
	if err != nil {
		t.Fatalf("decode without name or pin: %v", err)
	}
	if got["0"][0] != 1 || got["1"][0] != 2 {
		t.Fatalf("unexpected samples %v", got)
	}

	for _, bad := range []sensor.Configuration{
		{Enabled: true, Sensors: []string{"0"}, RegisterSize: 0},
		{Enabled: true, RegisterSize: 4},
	} {
		if _, err := Decode("10000100", bad); err == nil {
			t.Fatalf("expected layout error for %+v", bad)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("0000x001", oneSensor(8))
	if !errors.Is(err, ErrMalformedCapture) {
		t.Fatalf("expected ErrMalformedCapture, got %v", err)
	}
}

func TestDecodeTwosComplement(t *testing.T) {
	cfg := oneSensor(8)
	cfg.Encoding = sensor.EncodingTwos
	// reversed "11111110" = -2
	got, err := Decode("01111111", cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["S0"][0] != -2 {
		t.Fatalf("expected -2, got %v", got["S0"])
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := sensor.Configuration{
		Name:         "dts",
		Enabled:      true,
		Pin:          "TDO",
		Sensors:      []string{"A", "B", "C"},
		RegisterSize: 9,
		Slope:        0.25,
		Offset:       -40,
	}
	values := Samples{
		"A": {25.5, 26, 27.25},
		"B": {-40, 30, 87.75},
		"C": {0, 0.25, 10},
	}
	capture, err := Encode(values, cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(capture) != 3*cfg.ChainWidth() {
		t.Fatalf("unexpected capture length %d", len(capture))
	}
	decoded, err := Decode(capture, cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for name, want := range values {
		for i := range want {
			if decoded[name][i] != want[i] {
				t.Fatalf("%s[%d]: got %v want %v", name, i, decoded[name][i], want[i])
			}
		}
	}
}

func TestEncodeFieldRecoversBits(t *testing.T) {
	cfg := oneSensor(8)
	cfg.Slope = 2
	cfg.Offset = 10
	for _, field := range []string{"00000001", "10110010", "11111111", "00000000"} {
		decoded, err := Decode(field, cfg)
		if err != nil {
			t.Fatalf("decode %s: %v", field, err)
		}
		back, err := EncodeField(decoded["S0"][0], cfg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if back != field {
			t.Fatalf("round trip %s -> %v -> %s", field, decoded["S0"][0], back)
		}
	}
	if _, err := EncodeField(10000, cfg); err == nil || !strings.Contains(err.Error(), "outside") {
		t.Fatalf("expected range error, got %v", err)
	}
}
