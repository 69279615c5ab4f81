// v0
// internal/testmethod/fivr.go
package testmethod

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"nrgchamp/sensorcore/internal/fit"
	"nrgchamp/sensorcore/internal/metrics"
	"nrgchamp/sensorcore/internal/record"
	"nrgchamp/sensorcore/internal/sink"
)

// FitRequest carries the measured DAC transfer curve of one device.
type FitRequest struct {
	DeviceID string    `json:"deviceId"`
	X        []float64 `json:"x"`
	Y        []float64 `json:"y"`
}

// FitLimits bound an acceptable fit.
type FitLimits struct {
	MinRSquared float64 `json:"minRSquared"`
}

// FIVRResult is the outcome of one FIVR execution.
type FIVRResult struct {
	Test         string      `json:"test"`
	DeviceID     string      `json:"deviceId"`
	EnvelopeID   string      `json:"envelopeId,omitempty"`
	Port         Port        `json:"port"`
	Fit          *fit.Result `json:"fit,omitempty"`
	Record       string      `json:"record,omitempty"`
	PublishError string      `json:"publishError,omitempty"`
}

// FIVR fits a DAC transfer curve and datalogs the quantized trim codes.
type FIVR struct {
	name    string
	limits  FitLimits
	out     sink.Sink
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewFIVR builds a FIVR test instance. A nil sink discards envelopes.
func NewFIVR(name string, limits FitLimits, out sink.Sink, m *metrics.Metrics, log *slog.Logger) *FIVR {
	if log == nil {
		log = slog.Default()
	}
	if out == nil {
		out = sink.Discard{}
	}
	return &FIVR{name: name, limits: limits, out: out, metrics: m, log: log.With("test", name)}
}

// Name returns the test instance name.
func (t *FIVR) Name() string { return t.name }

// Verify checks the fit limits.
func (t *FIVR) Verify() error {
	r := t.limits.MinRSquared
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("%s: min r-squared must be within 0..1: %v", t.name, r)
	}
	return nil
}

// Execute fits the curve, compares R² with the limit, publishes the fit
// record and returns the port. Fit errors yield the error port.
func (t *FIVR) Execute(ctx context.Context, req FitRequest) (FIVRResult, error) {
	res := FIVRResult{Test: t.name, DeviceID: req.DeviceID, Port: PortError}
	if err := t.Verify(); err != nil {
		t.metrics.Execution(t.name, int(res.Port))
		return res, err
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		t.metrics.Execution(t.name, int(res.Port))
		return res, ErrNoDevice
	}

	env := record.NewEnvelope(record.KindFIVR, t.name, req.DeviceID)
	out, fitErr := fit.Linear(req.X, req.Y)
	if fitErr == nil {
		res.Fit = &out
		res.Record = record.FitRecord(out)
		res.Port = PortPass
		if out.RSquared < t.limits.MinRSquared {
			res.Port = PortFail
			t.log.Debug("fit_below_limit", "device", req.DeviceID, "rSquared", out.RSquared, "limit", t.limits.MinRSquared)
		}
		env.Add(record.Tag(t.name, "FIT"), res.Record, false)
		t.metrics.Fit(out.RSquared)
	} else {
		t.log.Warn("fit_failed", "device", req.DeviceID, "points", len(req.X), "err", fitErr)
	}

	env.Port = int(res.Port)
	env.Pass = res.Port == PortPass
	res.EnvelopeID = env.ID
	if err := t.out.Publish(ctx, env); err != nil {
		res.PublishError = err.Error()
		t.log.Error("publish_failed", "device", req.DeviceID, "envelope", env.ID, "err", err)
	}
	t.metrics.Execution(t.name, int(res.Port))
	t.log.Info("executed", "device", req.DeviceID, "port", res.Port.String())
	return res, fitErr
}
