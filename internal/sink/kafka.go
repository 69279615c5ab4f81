// v0
// internal/sink/kafka.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/record"
)

// KafkaConfig selects the result topic and writer behaviour.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Compression  string // none, gzip, snappy, lz4, zstd
	RequiredAcks int    // -1 all, 0 none, 1 leader
}

// Validate ensures the configuration is usable.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("kafka result topic is required")
	}
	if _, err := compressionCodec(c.Compression); err != nil {
		return err
	}
	if c.RequiredAcks < -1 || c.RequiredAcks > 1 {
		return fmt.Errorf("kafka acks must be -1, 0, or 1: %d", c.RequiredAcks)
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes envelopes as JSON messages keyed by device id.
type Kafka struct {
	topic  string
	writer messageWriter
	closer func() error
	log    *slog.Logger
}

// NewKafka builds a breaker-guarded kafka writer for the result topic.
func NewKafka(cfg KafkaConfig, breaker *circuitbreaker.KafkaBreaker, log *slog.Logger) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, _ := compressionCodec(cfg.Compression)
	raw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		BatchTimeout: 50 * time.Millisecond,
	}
	log.Info("kafka_sink_wired", "topic", cfg.Topic, "brokers", strings.Join(cfg.Brokers, ","), "compression", cfg.Compression, "breaker", breaker.Enabled())
	return &Kafka{
		topic:  cfg.Topic,
		writer: circuitbreaker.NewCBKafkaWriter(raw, breaker),
		closer: raw.Close,
		log:    log,
	}, nil
}

// Name implements Sink.
func (k *Kafka) Name() string { return "kafka" }

// Publish implements Sink.
func (k *Kafka) Publish(ctx context.Context, env record.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.DeviceID),
		Value: payload,
		Time:  env.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind)},
			{Key: "test", Value: []byte(env.Test)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", k.topic, err)
	}
	return nil
}

// Close implements Sink.
func (k *Kafka) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer()
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported kafka compression %q", name)
	}
}
