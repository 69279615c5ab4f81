// v1
// internal/testmethod/dts.go
package testmethod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/metrics"
	"nrgchamp/sensorcore/internal/record"
	"nrgchamp/sensorcore/internal/sensor"
	"nrgchamp/sensorcore/internal/sink"
)

// ErrNoDevice rejects a unit without an identifier.
var ErrNoDevice = errors.New("device id is required")

// Unit is one device under test: its id and the captured bit stream per pin.
type Unit struct {
	DeviceID string            `json:"deviceId"`
	Captures map[string]string `json:"captures"`
}

// ConfigOutcome reports what one configuration produced for a unit.
type ConfigOutcome struct {
	Config     string         `json:"config"`
	Pin        string         `json:"pin"`
	Samples    int            `json:"samples"`
	Summary    string         `json:"summary,omitempty"`
	Evaluation dts.Evaluation `json:"evaluation"`
	Port       Port           `json:"port"`
	Error      string         `json:"error,omitempty"`
}

// DTSResult is the outcome of one DTS execution.
type DTSResult struct {
	Test         string          `json:"test"`
	DeviceID     string          `json:"deviceId"`
	EnvelopeID   string          `json:"envelopeId,omitempty"`
	Port         Port            `json:"port"`
	Configs      []ConfigOutcome `json:"configs"`
	PublishError string          `json:"publishError,omitempty"`
}

// DTS decodes thermal sensor captures, checks them against their limits and
// datalogs the readings.
type DTS struct {
	name    string
	set     *sensor.Set
	symbols dts.Resolver
	eval    *dts.Evaluator
	out     sink.Sink
	metrics *metrics.Metrics
	log     *slog.Logger

	verifyOnce sync.Once
	verifyErr  error
}

// NewDTS builds a DTS test instance. A nil sink discards envelopes.
func NewDTS(name string, set *sensor.Set, resolver dts.Resolver, out sink.Sink, m *metrics.Metrics, log *slog.Logger) *DTS {
	if log == nil {
		log = slog.Default()
	}
	if out == nil {
		out = sink.Discard{}
	}
	if resolver == nil {
		resolver = dts.Symbols(nil)
	}
	log = log.With("test", name)
	return &DTS{
		name:    name,
		set:     set,
		symbols: resolver,
		eval:    dts.NewEvaluator(resolver, log),
		out:     out,
		metrics: m,
		log:     log,
	}
}

// Name returns the test instance name.
func (t *DTS) Name() string { return t.name }

// Configs returns the configurations in load order.
func (t *DTS) Configs() []sensor.Configuration {
	if t.set == nil {
		return nil
	}
	return t.set.All()
}

// Verify validates every configuration and resolves its limit expressions.
// It runs once; later calls return the first result.
func (t *DTS) Verify() error {
	t.verifyOnce.Do(func() {
		t.verifyErr = t.verify()
		if t.verifyErr != nil {
			t.log.Error("verify_failed", "err", t.verifyErr)
			return
		}
		t.log.Info("verified", "configs", len(t.Configs()))
	})
	return t.verifyErr
}

func (t *DTS) verify() error {
	if t.set == nil || t.set.Len() == 0 {
		return fmt.Errorf("%s: no sensor configurations", t.name)
	}
	var errs []error
	for _, cfg := range t.set.All() {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		limits := [][2]string{
			{"set point", cfg.SetPoint},
			{"upper tolerance", cfg.UpperTolerance},
			{"lower tolerance", cfg.LowerTolerance},
		}
		for _, l := range limits {
			if _, err := t.symbols.Resolve(l[1]); err != nil {
				errs = append(errs, fmt.Errorf("%s: %s: %w", cfg.Name, l[0], err))
			}
		}
	}
	return errors.Join(errs...)
}

// Execute runs every enabled configuration against the unit's captures,
// publishes one envelope and returns the worst port. The returned error joins
// every failure that forced the error port.
func (t *DTS) Execute(ctx context.Context, unit Unit) (DTSResult, error) {
	res := DTSResult{Test: t.name, DeviceID: unit.DeviceID, Port: PortPass}
	if err := t.Verify(); err != nil {
		res.Port = PortError
		t.metrics.Execution(t.name, int(res.Port))
		return res, err
	}
	if strings.TrimSpace(unit.DeviceID) == "" {
		res.Port = PortError
		t.metrics.Execution(t.name, int(res.Port))
		return res, ErrNoDevice
	}

	env := record.NewEnvelope(record.KindDTS, t.name, unit.DeviceID)
	var errs []error
	for _, cfg := range t.set.All() {
		if !cfg.Enabled {
			continue
		}
		outcome, err := t.runConfig(cfg, unit, &env)
		if err != nil {
			errs = append(errs, err)
			outcome.Error = err.Error()
		}
		res.Configs = append(res.Configs, outcome)
		res.Port = Worst(res.Port, outcome.Port)
	}

	env.Port = int(res.Port)
	env.Pass = res.Port == PortPass
	res.EnvelopeID = env.ID
	if err := t.out.Publish(ctx, env); err != nil {
		res.PublishError = err.Error()
		t.log.Error("publish_failed", "device", unit.DeviceID, "envelope", env.ID, "err", err)
	}
	t.metrics.Execution(t.name, int(res.Port))
	t.log.Info("executed", "device", unit.DeviceID, "port", res.Port.String(), "configs", len(res.Configs))
	return res, errors.Join(errs...)
}

func (t *DTS) runConfig(cfg sensor.Configuration, unit Unit, env *record.Envelope) (ConfigOutcome, error) {
	outcome := ConfigOutcome{Config: cfg.Name, Pin: cfg.Pin, Port: PortPass, Evaluation: dts.Evaluation{Pass: true}}
	capture, ok := unit.Captures[cfg.Pin]
	if !ok {
		t.log.Warn("capture_missing", "device", unit.DeviceID, "config", cfg.Name, "pin", cfg.Pin)
	}
	samples, err := dts.Decode(capture, cfg)
	if err != nil {
		outcome.Port = PortError
		return outcome, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	outcome.Samples = samples.Count()
	t.metrics.Decoded(cfg.Name, outcome.Samples)

	ev, err := t.eval.Evaluate(samples, cfg)
	if err != nil {
		outcome.Port = PortError
		return outcome, err
	}
	outcome.Evaluation = ev
	for _, v := range ev.Violations {
		t.metrics.Violation(cfg.Name, v.Sensor)
	}
	if !ev.Pass {
		outcome.Port = PortFail
	}

	if outcome.Samples == 0 {
		return outcome, nil
	}
	outcome.Summary = record.Summary(samples, cfg)
	if cfg.Datalog {
		env.Add(record.Tag(t.name, cfg.Name), outcome.Summary, false)
	}
	if record.WantsCompressedRaw(cfg) {
		packed, err := record.Compress(record.Raw(samples, cfg))
		if err != nil {
			outcome.Port = PortError
			return outcome, fmt.Errorf("%s: compress raw record: %w", cfg.Name, err)
		}
		env.Add(record.Tag(t.name, cfg.Name, "RAW"), packed, true)
	}
	return outcome, nil
}
