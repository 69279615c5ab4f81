// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/sensor"
)

// Config captures all runtime settings required by the sensorcore service.
// Values can be provided by environment variables, a properties file, or
// fall back to defaults so the service can boot with minimal setup.
//
// AccessLogPath enables a combined-format access log when set. Symbols feed
// the limit resolver (symbol.<name> keys) and Sensors holds the
// dts.<name>.<field> definitions in first-seen order.
type Config struct {
	ListenAddress    string
	LogFilePath      string
	LogLevel         slog.Level
	AccessLogPath    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	PropertiesPath   string

	KafkaBrokers   []string
	IngestEnabled  bool
	CaptureTopic   string
	CaptureGroupID string
	PollTimeout    time.Duration

	KafkaSinkEnabled bool
	ResultTopic      string
	KafkaCompression string
	KafkaAcks        int

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTQoS         byte

	ArchiveEnabled bool
	ArchivePath    string

	Breaker circuitbreaker.Settings

	DTSTestName     string
	FIVRTestName    string
	FIVRMinRSquared float64
	Symbols         map[string]float64
	Sensors         []sensor.Configuration
}

const (
	defaultListenAddress = ":8090"
	defaultLogFile       = "logs/sensorcore.log"
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultShutdown      = 5 * time.Second
	defaultPropsPath     = "sensorcore.properties"
	defaultKafkaBrokers  = "kafka:9092"
	defaultCaptureTopic  = "sensorcore.captures"
	defaultCaptureGroup  = "sensorcore-dts"
	defaultResultTopic   = "sensorcore.results"
	defaultPollTimeout   = 5 * time.Second
	defaultMQTTBroker    = "tcp://mosquitto:1883"
	defaultMQTTClientID  = "sensorcore"
	defaultMQTTPrefix    = "sensorcore/results"
	defaultArchivePath   = "data/results.jsonl"
	defaultDTSTestName   = "DTS"
	defaultFIVRTestName  = "FIVR"
)

// Load resolves configuration by layering defaults, an optional properties
// file, and finally environment variables. The properties file location can
// be overridden with SENSORCORE_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Defaults()

	propsPath := strings.TrimSpace(os.Getenv("SENSORCORE_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	b := newSensorBuilder()
	if err := applyProperties(&cfg, b, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	cfg.Sensors = b.build()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	breaker, err := circuitbreaker.SettingsFromEnv(cfg.Breaker)
	if err != nil {
		return Config{}, err
	}
	cfg.Breaker = breaker

	if _, err := sensor.NewSet(cfg.Sensors...); err != nil {
		return Config{}, fmt.Errorf("sensor configuration: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		ListenAddress:    defaultListenAddress,
		LogFilePath:      filepath.Clean(defaultLogFile),
		LogLevel:         slog.LevelInfo,
		HTTPReadTimeout:  defaultReadTimeout,
		HTTPWriteTimeout: defaultWriteTimeout,
		ShutdownTimeout:  defaultShutdown,
		KafkaBrokers:     splitAndTrim(defaultKafkaBrokers),
		CaptureTopic:     defaultCaptureTopic,
		CaptureGroupID:   defaultCaptureGroup,
		PollTimeout:      defaultPollTimeout,
		ResultTopic:      defaultResultTopic,
		KafkaCompression: "lz4",
		KafkaAcks:        -1,
		MQTTBroker:       defaultMQTTBroker,
		MQTTClientID:     defaultMQTTClientID,
		MQTTTopicPrefix:  defaultMQTTPrefix,
		MQTTQoS:          1,
		ArchiveEnabled:   true,
		ArchivePath:      filepath.Clean(defaultArchivePath),
		Breaker:          circuitbreaker.DefaultSettings(),
		DTSTestName:      defaultDTSTestName,
		FIVRTestName:     defaultFIVRTestName,
		FIVRMinRSquared:  0.99,
		Symbols:          map[string]float64{},
	}
}

func applyProperties(cfg *Config, b *sensorBuilder, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, b, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, b *sensorBuilder, key, value string) error {
	switch {
	case strings.HasPrefix(key, "dts."):
		return b.set(strings.TrimPrefix(key, "dts."), value)
	case strings.HasPrefix(key, "symbol."):
		name := strings.TrimSpace(strings.TrimPrefix(key, "symbol."))
		if name == "" {
			return errors.New("symbol name cannot be empty")
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid symbol value: %w", err)
		}
		cfg.Symbols[name] = v
		return nil
	}

	switch key {
	case "listen_address":
		if value == "" {
			return errors.New("listen_address cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("log_path cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "access_log_path":
		if value != "" {
			value = filepath.Clean(value)
		}
		cfg.AccessLogPath = value
	case "log_level":
		lvl, err := parseLevel(value)
		if err != nil {
			return err
		}
		cfg.LogLevel = lvl
	case "http_read_timeout_ms":
		return setMillis(&cfg.HTTPReadTimeout, value)
	case "http_write_timeout_ms":
		return setMillis(&cfg.HTTPWriteTimeout, value)
	case "shutdown_timeout_ms":
		return setMillis(&cfg.ShutdownTimeout, value)
	case "kafka_brokers":
		brokers := splitAndTrim(value)
		if len(brokers) == 0 {
			return errors.New("kafka_brokers cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	case "ingest_enabled":
		cfg.IngestEnabled = circuitbreaker.ParseBool(value)
	case "capture_topic":
		return setNonEmpty(&cfg.CaptureTopic, key, value)
	case "capture_group_id":
		return setNonEmpty(&cfg.CaptureGroupID, key, value)
	case "poll_timeout_ms":
		return setMillis(&cfg.PollTimeout, value)
	case "kafka_sink_enabled":
		cfg.KafkaSinkEnabled = circuitbreaker.ParseBool(value)
	case "result_topic":
		return setNonEmpty(&cfg.ResultTopic, key, value)
	case "kafka_compression":
		cfg.KafkaCompression = strings.ToLower(value)
	case "kafka_acks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid kafka_acks: %w", err)
		}
		cfg.KafkaAcks = n
	case "mqtt_enabled":
		cfg.MQTTEnabled = circuitbreaker.ParseBool(value)
	case "mqtt_broker":
		return setNonEmpty(&cfg.MQTTBroker, key, value)
	case "mqtt_client_id":
		cfg.MQTTClientID = value
	case "mqtt_topic_prefix":
		return setNonEmpty(&cfg.MQTTTopicPrefix, key, value)
	case "mqtt_qos":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return fmt.Errorf("mqtt_qos must be 0, 1, or 2")
		}
		cfg.MQTTQoS = byte(n)
	case "archive_enabled":
		cfg.ArchiveEnabled = circuitbreaker.ParseBool(value)
	case "archive_path":
		if value == "" {
			return errors.New("archive_path cannot be empty")
		}
		cfg.ArchivePath = filepath.Clean(value)
	case "cb_enabled":
		cfg.Breaker.Enabled = circuitbreaker.ParseBool(value)
	case "cb_failure_threshold":
		return setPositiveInt(&cfg.Breaker.FailureThreshold, value)
	case "cb_success_threshold":
		return setPositiveInt(&cfg.Breaker.SuccessThreshold, value)
	case "cb_open_ms":
		return setMillis(&cfg.Breaker.OpenFor, value)
	case "cb_timeout_ms":
		return setMillis(&cfg.Breaker.Timeout, value)
	case "cb_backoff_ms":
		return setMillis(&cfg.Breaker.Backoff, value)
	case "dts_test_name":
		return setNonEmpty(&cfg.DTSTestName, key, value)
	case "fivr_test_name":
		return setNonEmpty(&cfg.FIVRTestName, key, value)
	case "fivr_min_r_squared":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid fivr_min_r_squared: %w", err)
		}
		cfg.FIVRMinRSquared = v
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnvTrimmed("SENSORCORE_LISTEN_ADDRESS"); ok {
		if v == "" {
			return errors.New("SENSORCORE_LISTEN_ADDRESS cannot be empty")
		}
		cfg.ListenAddress = v
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_LOG_PATH"); ok {
		if v == "" {
			return errors.New("SENSORCORE_LOG_PATH cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_LOG_LEVEL"); ok {
		lvl, err := parseLevel(v)
		if err != nil {
			return fmt.Errorf("SENSORCORE_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_KAFKA_BROKERS"); ok {
		brokers := splitAndTrim(v)
		if len(brokers) == 0 {
			return errors.New("SENSORCORE_KAFKA_BROKERS cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	} else if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
		brokers := splitAndTrim(v)
		if len(brokers) == 0 {
			return errors.New("KAFKA_BROKERS cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_INGEST_ENABLED"); ok {
		cfg.IngestEnabled = circuitbreaker.ParseBool(v)
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_CAPTURE_TOPIC"); ok {
		if err := setNonEmpty(&cfg.CaptureTopic, "SENSORCORE_CAPTURE_TOPIC", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_RESULT_TOPIC"); ok {
		if err := setNonEmpty(&cfg.ResultTopic, "SENSORCORE_RESULT_TOPIC", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_KAFKA_SINK_ENABLED"); ok {
		cfg.KafkaSinkEnabled = circuitbreaker.ParseBool(v)
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_MQTT_ENABLED"); ok {
		cfg.MQTTEnabled = circuitbreaker.ParseBool(v)
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_MQTT_BROKER"); ok {
		if err := setNonEmpty(&cfg.MQTTBroker, "SENSORCORE_MQTT_BROKER", v); err != nil {
			return err
		}
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_ARCHIVE_PATH"); ok {
		if v == "" {
			return errors.New("SENSORCORE_ARCHIVE_PATH cannot be empty")
		}
		cfg.ArchivePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("SENSORCORE_FIVR_MIN_R_SQUARED"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SENSORCORE_FIVR_MIN_R_SQUARED: %w", err)
		}
		cfg.FIVRMinRSquared = f
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func setMillis(dst *time.Duration, v string) error {
	d, err := parsePositiveMillis(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setPositiveInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = n
	return nil
}

func setNonEmpty(dst *string, key, v string) error {
	if v == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	*dst = v
	return nil
}

func parseLevel(v string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", v)
	}
	return lvl, nil
}
