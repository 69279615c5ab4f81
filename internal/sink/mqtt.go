// v0
// internal/sink/mqtt.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/record"
)

// MQTTConfig configures the live result feed.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
}

// Validate ensures the configuration is usable.
func (c MQTTConfig) Validate() error {
	if strings.TrimSpace(c.Broker) == "" {
		return errors.New("mqtt broker is required")
	}
	if strings.TrimSpace(c.TopicPrefix) == "" {
		return errors.New("mqtt topic prefix is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1, or 2: %d", c.QoS)
	}
	return nil
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes envelopes to <prefix>/<test>/<device>.
type MQTT struct {
	cfg     MQTTConfig
	client  mqttPublisher
	breaker *circuitbreaker.Breaker
	log     *slog.Logger
}

// NewMQTT connects to the broker. A nil breaker disables fast-fail.
func NewMQTT(cfg MQTTConfig, breaker *circuitbreaker.Breaker, log *slog.Logger) (*MQTT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt_connection_lost", "broker", cfg.Broker, "err", err)
		})
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	log.Info("mqtt_sink_wired", "broker", cfg.Broker, "prefix", cfg.TopicPrefix, "qos", cfg.QoS)
	return newMQTT(cfg, c, breaker, log), nil
}

func newMQTT(cfg MQTTConfig, client mqttPublisher, breaker *circuitbreaker.Breaker, log *slog.Logger) *MQTT {
	return &MQTT{cfg: cfg, client: client, breaker: breaker, log: log}
}

// Name implements Sink.
func (m *MQTT) Name() string { return "mqtt" }

// Topic returns the topic an envelope is published on.
func (m *MQTT) Topic(env record.Envelope) string {
	prefix := strings.TrimRight(m.cfg.TopicPrefix, "/")
	return prefix + "/" + topicLevel(env.Test) + "/" + topicLevel(env.DeviceID)
}

// Publish implements Sink.
func (m *MQTT) Publish(ctx context.Context, env record.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	topic := m.Topic(env)
	op := func(ctx context.Context) error {
		token := m.client.Publish(topic, m.cfg.QoS, m.cfg.Retained, payload)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.breaker == nil {
		return op(ctx)
	}
	return m.breaker.Execute(ctx, op)
}

// Close implements Sink.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

// topicLevel keeps a value inside one topic level.
func topicLevel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
