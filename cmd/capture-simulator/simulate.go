// v1
// cmd/capture-simulator/simulate.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/sensor"
	"nrgchamp/sensorcore/internal/testmethod"
)

const defaultBase = 50.0

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Simulator emits one capture set per unit and tick. Each pin carries the
// register chain of the first enabled configuration bound to it.
type Simulator struct {
	log     *slog.Logger
	cfg     SimConfig
	configs []sensor.Configuration
	symbols dts.Symbols
	rng     *rand.Rand
}

func newSimulator(cfg SimConfig, set *sensor.Set, symbols dts.Symbols, log *slog.Logger) *Simulator {
	seen := make(map[string]struct{})
	var configs []sensor.Configuration
	for _, c := range set.All() {
		if !c.Enabled {
			continue
		}
		if _, dup := seen[c.Pin]; dup {
			log.Warn("pin_shared_skipped", "config", c.Name, "pin", c.Pin)
			continue
		}
		seen[c.Pin] = struct{}{}
		configs = append(configs, c)
	}
	return &Simulator{log: log, cfg: cfg, configs: configs, symbols: symbols, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// base is the centre of the generated distribution for a configuration.
func (s *Simulator) base(c sensor.Configuration) float64 {
	if c.SetPoint == "" {
		return defaultBase
	}
	v, err := s.symbols.Resolve(c.SetPoint)
	if err != nil {
		return defaultBase
	}
	return v
}

func (s *Simulator) buildUnit(deviceID string) (testmethod.Unit, error) {
	unit := testmethod.Unit{DeviceID: deviceID, Captures: make(map[string]string, len(s.configs))}
	for _, c := range s.configs {
		centre := s.base(c)
		values := make(dts.Samples, len(c.Sensors))
		for _, name := range c.Sensors {
			reps := make([]float64, s.cfg.Repetitions)
			for i := range reps {
				reps[i] = centre + s.cfg.Jitter*(2*s.rng.Float64()-1)
			}
			values[name] = reps
		}
		capture, err := dts.Encode(values, c)
		if err != nil {
			return testmethod.Unit{}, fmt.Errorf("encode %s: %w", c.Name, err)
		}
		unit.Captures[c.Pin] = capture
	}
	return unit, nil
}

func (s *Simulator) publish(ctx context.Context, w messageWriter, unit testmethod.Unit, now time.Time) error {
	b, err := json.Marshal(unit)
	if err != nil {
		s.log.Error("marshal failed", "err", err)
		return err
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(unit.DeviceID), Value: b, Time: now}); err != nil {
		s.log.Error("kafka write failed", "err", err, "deviceId", unit.DeviceID)
		return err
	}
	s.log.Info("published", "deviceId", unit.DeviceID, "pins", len(unit.Captures))
	return nil
}

// run ticks until ctx is done, publishing a capture set for every unit.
func (s *Simulator) run(ctx context.Context, w messageWriter, units []string) {
	t := time.NewTicker(s.cfg.Rate)
	defer t.Stop()
	s.log.Info("publisher started", "units", len(units), "configs", len(s.configs), "rate", s.cfg.Rate.String())
	for {
		select {
		case now := <-t.C:
			for _, id := range units {
				unit, err := s.buildUnit(id)
				if err != nil {
					s.log.Warn("unit_skipped", "deviceId", id, "err", err)
					continue
				}
				_ = s.publish(ctx, w, unit, now)
			}
		case <-ctx.Done():
			s.log.Info("publisher stopped")
			return
		}
	}
}
