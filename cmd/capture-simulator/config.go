// v1
// cmd/capture-simulator/config.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SimConfig holds the simulator-only knobs. Brokers, topic and sensor
// configurations come from the shared service configuration.
type SimConfig struct {
	Units       int
	UnitIDs     []string
	Rate        time.Duration
	Repetitions int
	Jitter      float64
	Seed        int64
}

func loadSimConfig() (SimConfig, error) {
	cfg := SimConfig{Units: 3, Rate: time.Second, Repetitions: 2, Jitter: 2, Seed: time.Now().UnixNano()}
	var err error
	if v := strings.TrimSpace(os.Getenv("SIM_UNITS")); v != "" {
		if cfg.Units, err = strconv.Atoi(v); err != nil || cfg.Units < 1 {
			return SimConfig{}, fmt.Errorf("SIM_UNITS must be a positive integer: %q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIM_UNIT_IDS")); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.UnitIDs = append(cfg.UnitIDs, id)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIM_RATE")); v != "" {
		if cfg.Rate, err = time.ParseDuration(v); err != nil || cfg.Rate <= 0 {
			return SimConfig{}, fmt.Errorf("SIM_RATE must be a positive duration: %q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIM_REPETITIONS")); v != "" {
		if cfg.Repetitions, err = strconv.Atoi(v); err != nil || cfg.Repetitions < 1 {
			return SimConfig{}, fmt.Errorf("SIM_REPETITIONS must be a positive integer: %q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIM_JITTER")); v != "" {
		if cfg.Jitter, err = strconv.ParseFloat(v, 64); err != nil || cfg.Jitter < 0 {
			return SimConfig{}, fmt.Errorf("SIM_JITTER must be a non-negative number: %q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIM_SEED")); v != "" {
		if cfg.Seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return SimConfig{}, fmt.Errorf("SIM_SEED must be an integer: %q", v)
		}
	}
	return cfg, nil
}
