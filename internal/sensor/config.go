// v0
// internal/sensor/config.go
package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// Encoding selects how a bit-reversed register field is interpreted.
type Encoding string

const (
	// EncodingUnsigned reads the field as an unsigned binary integer.
	EncodingUnsigned Encoding = "unsigned"
	// EncodingTwos reads the field as a two's complement integer.
	EncodingTwos Encoding = "twos"
)

// MaxRegisterSize bounds a single register field so it fits in an int64.
const MaxRegisterSize = 64

// Configuration describes one DTS register chain: which sensors are
// shifted out on which pin, how wide each register is, and how the raw
// codes map to engineering units. It is loaded once and never mutated.
type Configuration struct {
	Name              string   `json:"name"`
	Enabled           bool     `json:"enabled"`
	Pin               string   `json:"pin"`
	Sensors           []string `json:"sensors"`
	RegisterSize      int      `json:"registerSize"`
	Slope             float64  `json:"slope"`
	Offset            float64  `json:"offset"`
	IgnoredSensors    []string `json:"ignoredSensors,omitempty"`
	SetPoint          string   `json:"setPoint,omitempty"`
	UpperTolerance    string   `json:"upperTolerance,omitempty"`
	LowerTolerance    string   `json:"lowerTolerance,omitempty"`
	UseLastOnly       bool     `json:"useLastOnly"`
	Datalog           bool     `json:"datalog"`
	CompressedDatalog bool     `json:"compressedDatalog"`
	Encoding          Encoding `json:"encoding,omitempty"`
}

// Validate ensures the configuration is internally consistent before use.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("configuration name is required")
	}
	if strings.TrimSpace(c.Pin) == "" {
		return fmt.Errorf("%s: pin is required", c.Name)
	}
	if err := c.ValidateLayout(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		seen[s] = struct{}{}
	}
	for _, s := range c.IgnoredSensors {
		if _, ok := seen[s]; !ok {
			return fmt.Errorf("%s: ignored sensor %q is not configured", c.Name, s)
		}
	}
	return nil
}

// ValidateLayout checks only what slicing a capture needs: the sensor list,
// the register width and the encoding.
func (c Configuration) ValidateLayout() error {
	if len(c.Sensors) == 0 {
		return fmt.Errorf("%s: at least one sensor is required", c.Name)
	}
	if c.RegisterSize < 1 || c.RegisterSize > MaxRegisterSize {
		return fmt.Errorf("%s: register size must be within 1..%d: %d", c.Name, MaxRegisterSize, c.RegisterSize)
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s: sensor names must not be empty", c.Name)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%s: duplicate sensor %q", c.Name, s)
		}
		seen[s] = struct{}{}
	}
	switch c.Encoding {
	case "", EncodingUnsigned, EncodingTwos:
	default:
		return fmt.Errorf("%s: unsupported encoding %q", c.Name, c.Encoding)
	}
	return nil
}

// Clone returns a deep copy so callers can safely mutate the configuration.
func (c Configuration) Clone() Configuration {
	cp := c
	cp.Sensors = append([]string(nil), c.Sensors...)
	if len(c.IgnoredSensors) > 0 {
		cp.IgnoredSensors = append([]string(nil), c.IgnoredSensors...)
	}
	return cp
}

// ChainWidth is the number of capture bits consumed by one repetition.
func (c Configuration) ChainWidth() int {
	return len(c.Sensors) * c.RegisterSize
}

// Ignored reports whether the sensor is excluded from limit checking.
func (c Configuration) Ignored(sensor string) bool {
	for _, s := range c.IgnoredSensors {
		if s == sensor {
			return true
		}
	}
	return false
}

// HasLimits reports whether a set-point and at least one tolerance are set.
func (c Configuration) HasLimits() bool {
	if strings.TrimSpace(c.SetPoint) == "" {
		return false
	}
	return strings.TrimSpace(c.UpperTolerance) != "" || strings.TrimSpace(c.LowerTolerance) != ""
}

// Set is an ordered collection of configurations keyed by name.
type Set struct {
	order  []string
	byName map[string]Configuration
}

// NewSet validates and indexes the configurations, preserving their order.
func NewSet(cfgs ...Configuration) (*Set, error) {
	s := &Set{byName: make(map[string]Configuration, len(cfgs))}
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate configuration %q", c.Name)
		}
		s.order = append(s.order, c.Name)
		s.byName[c.Name] = c.Clone()
	}
	return s, nil
}

// Get returns a copy of the named configuration.
func (s *Set) Get(name string) (Configuration, bool) {
	if s == nil {
		return Configuration{}, false
	}
	c, ok := s.byName[name]
	if !ok {
		return Configuration{}, false
	}
	return c.Clone(), true
}

// All returns copies of every configuration in load order.
func (s *Set) All() []Configuration {
	if s == nil {
		return nil
	}
	out := make([]Configuration, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name].Clone())
	}
	return out
}

// Len reports how many configurations are held.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}
