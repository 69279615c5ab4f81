// v0
// internal/sensor/config_test.go
package sensor

import (
	"strings"
	"testing"
)

func validConfig() Configuration {
	return Configuration{
		Name:         "core",
		Enabled:      true,
		Pin:          "TDO",
		Sensors:      []string{"S0", "S1"},
		RegisterSize: 8,
		Slope:        1,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{"ok", func(c *Configuration) {}, ""},
		{"no name", func(c *Configuration) { c.Name = " " }, "name is required"},
		{"no pin", func(c *Configuration) { c.Pin = "" }, "pin is required"},
		{"no sensors", func(c *Configuration) { c.Sensors = nil }, "at least one sensor"},
		{"zero width", func(c *Configuration) { c.RegisterSize = 0 }, "register size"},
		{"wide", func(c *Configuration) { c.RegisterSize = 65 }, "register size"},
		{"dup sensor", func(c *Configuration) { c.Sensors = []string{"A", "A"} }, "duplicate sensor"},
		{"unknown ignored", func(c *Configuration) { c.IgnoredSensors = []string{"X"} }, "not configured"},
		{"bad encoding", func(c *Configuration) { c.Encoding = "bcd" }, "unsupported encoding"},
		{"twos", func(c *Configuration) { c.Encoding = EncodingTwos }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestHasLimits(t *testing.T) {
	c := validConfig()
	if c.HasLimits() {
		t.Fatalf("no limits expected")
	}
	c.UpperTolerance = "1"
	if c.HasLimits() {
		t.Fatalf("set-point missing, limits must be off")
	}
	c.SetPoint = "5"
	if !c.HasLimits() {
		t.Fatalf("limits expected")
	}
}

func TestSetPreservesOrderAndCopies(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.Name = "uncore"
	set, err := NewSet(b, a)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	all := set.All()
	if len(all) != 2 || all[0].Name != "uncore" || all[1].Name != "core" {
		t.Fatalf("unexpected order: %+v", all)
	}
	all[0].Sensors[0] = "mutated"
	got, ok := set.Get("uncore")
	if !ok || got.Sensors[0] != "S0" {
		t.Fatalf("set leaked internal state: %+v", got)
	}
	if _, err := NewSet(a, a); err == nil {
		t.Fatalf("expected duplicate configuration error")
	}
}
