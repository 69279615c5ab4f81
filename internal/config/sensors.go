// v0
// internal/config/sensors.go
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/sensor"
)

// sensorBuilder collects dts.<name>.<field> properties into configurations.
type sensorBuilder struct {
	order []string
	byKey map[string]*sensor.Configuration
}

func newSensorBuilder() *sensorBuilder {
	return &sensorBuilder{byKey: make(map[string]*sensor.Configuration)}
}

func (b *sensorBuilder) get(name string) *sensor.Configuration {
	if c, ok := b.byKey[name]; ok {
		return c
	}
	c := &sensor.Configuration{Name: name, Enabled: true, Datalog: true, Slope: 1, Encoding: sensor.EncodingUnsigned}
	b.byKey[name] = c
	b.order = append(b.order, name)
	return c
}

// set applies "<name>.<field>" = value.
func (b *sensorBuilder) set(key, value string) error {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return errors.New("expected dts.<name>.<field>")
	}
	name, field := key[:idx], key[idx+1:]
	c := b.get(name)

	var err error
	switch field {
	case "enabled":
		c.Enabled = circuitbreaker.ParseBool(value)
	case "pin":
		c.Pin = value
	case "sensors":
		c.Sensors = splitAndTrim(value)
	case "register_size":
		c.RegisterSize, err = strconv.Atoi(value)
	case "slope":
		c.Slope, err = strconv.ParseFloat(value, 64)
	case "offset":
		c.Offset, err = strconv.ParseFloat(value, 64)
	case "ignored_sensors":
		c.IgnoredSensors = splitAndTrim(value)
	case "set_point":
		c.SetPoint = value
	case "upper_tolerance":
		c.UpperTolerance = value
	case "lower_tolerance":
		c.LowerTolerance = value
	case "use_last_only":
		c.UseLastOnly = circuitbreaker.ParseBool(value)
	case "datalog":
		c.Datalog = circuitbreaker.ParseBool(value)
	case "compressed_datalog":
		c.CompressedDatalog = circuitbreaker.ParseBool(value)
	case "encoding":
		switch enc := sensor.Encoding(strings.ToLower(value)); enc {
		case sensor.EncodingUnsigned, sensor.EncodingTwos:
			c.Encoding = enc
		default:
			return fmt.Errorf("unknown encoding %q", value)
		}
	default:
		return fmt.Errorf("unknown sensor field %q", field)
	}
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	return nil
}

func (b *sensorBuilder) build() []sensor.Configuration {
	out := make([]sensor.Configuration, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.byKey[name].Clone())
	}
	return out
}
