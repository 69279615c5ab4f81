// v0
// internal/sink/sink.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nrgchamp/sensorcore/internal/record"
)

// Sink receives the datalog envelope produced by one device execution.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env record.Envelope) error
	Close() error
}

// Observer is notified after every publish attempt.
type Observer interface {
	SinkPublished(sink string, err error)
}

// Fanout publishes each envelope to every wrapped sink. A failing sink does
// not stop the others; all errors are joined.
type Fanout struct {
	sinks []Sink
	log   *slog.Logger
	obs   Observer
}

// NewFanout wraps the given sinks. Nil sinks are skipped.
func NewFanout(log *slog.Logger, obs Observer, sinks ...Sink) *Fanout {
	f := &Fanout{log: log, obs: obs}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Names lists the wrapped sinks.
func (f *Fanout) Names() []string {
	out := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Publish implements Sink.
func (f *Fanout) Publish(ctx context.Context, env record.Envelope) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Publish(ctx, env)
		if f.obs != nil {
			f.obs.SinkPublished(s.Name(), err)
		}
		if err != nil {
			f.log.Error("sink_publish_failed", "sink", s.Name(), "envelope", env.ID, "device", env.DeviceID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.log.Debug("sink_published", "sink", s.Name(), "envelope", env.ID, "device", env.DeviceID)
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink and joins the errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every envelope.
type Discard struct{}

func (Discard) Name() string                                   { return "discard" }
func (Discard) Publish(context.Context, record.Envelope) error { return nil }
func (Discard) Close() error                                   { return nil }
