// v0
// internal/dts/limits.go
package dts

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"nrgchamp/sensorcore/internal/sensor"
)

// Bound names which side of the set-point a violation crossed.
type Bound string

const (
	BoundUpper Bound = "upper"
	BoundLower Bound = "lower"
)

// Violation records one sensor exceeding its tolerance.
type Violation struct {
	Sensor string  `json:"sensor"`
	Bound  Bound   `json:"bound"`
	Value  float64 `json:"value"`
	Delta  float64 `json:"delta"`
	Limit  float64 `json:"limit"`
}

// Evaluation is the outcome of a limit check.
type Evaluation struct {
	Pass       bool        `json:"pass"`
	Checked    int         `json:"checked"`
	Violations []Violation `json:"violations,omitempty"`
}

// Evaluator checks decoded samples against a set-point and tolerances.
type Evaluator struct {
	resolver Resolver
	log      *slog.Logger
}

// NewEvaluator builds an evaluator. A nil resolver only accepts literals.
func NewEvaluator(resolver Resolver, log *slog.Logger) *Evaluator {
	if resolver == nil {
		resolver = Symbols(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{resolver: resolver, log: log}
}

// Evaluate reduces every non-ignored sensor to its min and max (both the last
// sample in last-only mode) and fails when max-setPoint exceeds the upper
// tolerance or setPoint-min exceeds the lower one. All sensors are checked so
// every violation is reported.
func (e *Evaluator) Evaluate(samples Samples, cfg sensor.Configuration) (Evaluation, error) {
	res := Evaluation{Pass: true}
	if len(samples) == 0 || !cfg.HasLimits() {
		return res, nil
	}
	sp, err := e.resolver.Resolve(cfg.SetPoint)
	if err != nil {
		return res, fmt.Errorf("%s: set point: %w", cfg.Name, err)
	}
	upper, err := e.resolver.Resolve(cfg.UpperTolerance)
	if err != nil {
		return res, fmt.Errorf("%s: upper tolerance: %w", cfg.Name, err)
	}
	lower, err := e.resolver.Resolve(cfg.LowerTolerance)
	if err != nil {
		return res, fmt.Errorf("%s: lower tolerance: %w", cfg.Name, err)
	}
	if math.IsNaN(sp) {
		return res, nil
	}

	for _, name := range cfg.Sensors {
		if cfg.Ignored(name) {
			continue
		}
		values := samples[name]
		if len(values) == 0 {
			continue
		}
		res.Checked++
		lo, hi := values[len(values)-1], values[len(values)-1]
		if !cfg.UseLastOnly {
			lo, hi = floats.Min(values), floats.Max(values)
		}
		if !math.IsNaN(upper) && hi-sp > upper {
			res.Pass = false
			v := Violation{Sensor: name, Bound: BoundUpper, Value: hi, Delta: hi - sp, Limit: upper}
			res.Violations = append(res.Violations, v)
			e.log.Debug("limit_violation", "config", cfg.Name, "sensor", name, "bound", v.Bound, "value", hi, "delta", v.Delta, "limit", upper)
		}
		if !math.IsNaN(lower) && sp-lo > lower {
			res.Pass = false
			v := Violation{Sensor: name, Bound: BoundLower, Value: lo, Delta: sp - lo, Limit: lower}
			res.Violations = append(res.Violations, v)
			e.log.Debug("limit_violation", "config", cfg.Name, "sensor", name, "bound", v.Bound, "value", lo, "delta", v.Delta, "limit", lower)
		}
	}
	return res, nil
}
