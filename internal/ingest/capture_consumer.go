// v1
// internal/ingest/capture_consumer.go
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/metrics"
	"nrgchamp/sensorcore/internal/testmethod"
)

// CaptureConsumerConfig captures the runtime tunables of the capture stream.
type CaptureConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// Validate ensures the configuration is usable.
func (c CaptureConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("capture topic must not be empty")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return errors.New("consumer group must not be empty")
	}
	return nil
}

// Executor runs the DTS test method for one unit.
type Executor interface {
	Execute(ctx context.Context, unit testmethod.Unit) (testmethod.DTSResult, error)
}

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// CaptureConsumer reads unit captures from Kafka and executes the DTS test
// method on each of them. Offsets are committed after handling, whatever the
// outcome, so a poison message is never redelivered forever.
type CaptureConsumer struct {
	cfg       CaptureConsumerConfig
	fetcher   messageFetcher
	committer messageCommitter
	closer    io.Closer
	exec      Executor
	metrics   *metrics.Metrics
	log       *slog.Logger
	poll      time.Duration
}

// NewCaptureConsumer builds a group reader wrapped by the breaker.
func NewCaptureConsumer(cfg CaptureConsumerConfig, exec Executor, breaker *circuitbreaker.KafkaBreaker, m *metrics.Metrics, log *slog.Logger) (*CaptureConsumer, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if exec == nil {
		return nil, errors.New("executor must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	if breaker.Enabled() {
		log.Info("capture_consumer_cb_enabled", slog.String("topic", cfg.Topic))
	} else {
		log.Info("capture_consumer_cb_disabled", slog.String("topic", cfg.Topic))
	}
	return newCaptureConsumer(cfg, circuitbreaker.NewCBKafkaReader(reader, breaker), reader, reader, exec, m, log), nil
}

func newCaptureConsumer(cfg CaptureConsumerConfig, fetcher messageFetcher, committer messageCommitter, closer io.Closer, exec Executor, m *metrics.Metrics, log *slog.Logger) *CaptureConsumer {
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &CaptureConsumer{
		cfg:       cfg,
		fetcher:   fetcher,
		committer: committer,
		closer:    closer,
		exec:      exec,
		metrics:   m,
		log:       log,
		poll:      poll,
	}
}

// Close shuts down the underlying Kafka reader.
func (c *CaptureConsumer) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Run blocks until the context is cancelled or the reader is closed.
func (c *CaptureConsumer) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("nil consumer")
	}
	c.log.Info("capture_consumer_started",
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.GroupID),
		slog.String("brokers", strings.Join(c.cfg.Brokers, ",")),
		slog.Duration("pollTimeout", c.poll),
	)
	defer c.log.Info("capture_consumer_stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.log.Error("capture_consumer_fetch_error", slog.Any("err", err))
			continue
		}

		c.handle(ctx, msg)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.committer.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.log.Error("capture_consumer_commit_error", slog.Any("err", err))
			}
		}
		commitCancel()
	}
}

func (c *CaptureConsumer) handle(ctx context.Context, msg kafka.Message) {
	unit, err := decodeCaptureMessage(msg)
	if err != nil {
		c.metrics.CaptureConsumed("decode_error")
		c.log.Warn("capture_consumer_decode_error", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		return
	}
	res, err := c.exec.Execute(ctx, unit)
	if err != nil {
		c.metrics.CaptureConsumed("exec_error")
		c.log.Warn("capture_consumer_exec_error",
			slog.String("deviceId", unit.DeviceID),
			slog.Int64("offset", msg.Offset),
			slog.Any("err", err),
		)
		return
	}
	c.metrics.CaptureConsumed("ok")
	c.log.Info("capture_executed",
		slog.String("deviceId", unit.DeviceID),
		slog.String("port", res.Port.String()),
		slog.Int64("offset", msg.Offset),
	)
}

// decodeCaptureMessage reads {deviceId, captures:{pin:bits}}. The message key
// stands in for a missing deviceId.
func decodeCaptureMessage(msg kafka.Message) (testmethod.Unit, error) {
	var unit testmethod.Unit
	dec := json.NewDecoder(bytes.NewReader(msg.Value))
	if err := dec.Decode(&unit); err != nil {
		return testmethod.Unit{}, fmt.Errorf("decode capture payload: %w", err)
	}
	unit.DeviceID = strings.TrimSpace(unit.DeviceID)
	if unit.DeviceID == "" {
		unit.DeviceID = strings.TrimSpace(string(msg.Key))
	}
	if unit.DeviceID == "" {
		return testmethod.Unit{}, errors.New("deviceId missing or empty")
	}
	if len(unit.Captures) == 0 {
		return testmethod.Unit{}, errors.New("captures missing or empty")
	}
	return unit, nil
}
