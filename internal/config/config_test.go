// v0
// internal/config/config_test.go
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeProps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensorcore.properties")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("SENSORCORE_PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddress != defaultListenAddress || cfg.ResultTopic != defaultResultTopic {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Sensors) != 0 {
		t.Fatalf("expected no sensors, got %d", len(cfg.Sensors))
	}
	if cfg.Breaker.Enabled {
		t.Fatalf("breaker must default to disabled")
	}
}

func TestLoadPropertiesAndEnv(t *testing.T) {
	path := writeProps(t, strings.Join([]string{
		"# service",
		"listen_address = :9000",
		"log_level = debug",
		"kafka_brokers = k1:9092, k2:9092",
		"kafka_compression = LZ4",
		"cb_enabled = true",
		"cb_open_ms = 1500",
		"symbol.tj_target = 95.5",
		"dts.core.pin = TDO_CORE",
		"dts.core.sensors = 0,1,2",
		"dts.core.register_size = 8",
		"dts.core.slope = 0.5",
		"dts.core.offset = -64",
		"dts.core.set_point = tj_target",
		"dts.core.upper_tolerance = 5",
		"dts.core.ignored_sensors = 2",
		"dts.core.compressed_datalog = yes",
		"dts.gt.pin = TDO_GT",
		"dts.gt.sensors = a",
		"dts.gt.register_size = 12",
		"dts.gt.encoding = twos",
		"dts.gt.use_last_only = 1",
		"dts.gt.enabled = false",
	}, "\n"))
	t.Setenv("SENSORCORE_PROPERTIES_PATH", path)
	t.Setenv("SENSORCORE_LISTEN_ADDRESS", ":9100")
	t.Setenv("CB_KAFKA_FAILURE_THRESHOLD", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddress != ":9100" {
		t.Fatalf("env must override properties, got %q", cfg.ListenAddress)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaCompression != "lz4" {
		t.Fatalf("unexpected compression %q", cfg.KafkaCompression)
	}
	if !cfg.Breaker.Enabled || cfg.Breaker.FailureThreshold != 7 || cfg.Breaker.OpenFor != 1500*time.Millisecond {
		t.Fatalf("unexpected breaker settings %+v", cfg.Breaker)
	}
	if cfg.Symbols["tj_target"] != 95.5 {
		t.Fatalf("unexpected symbols %v", cfg.Symbols)
	}
	if len(cfg.Sensors) != 2 || cfg.Sensors[0].Name != "core" || cfg.Sensors[1].Name != "gt" {
		t.Fatalf("sensors must keep first-seen order: %+v", cfg.Sensors)
	}
	core := cfg.Sensors[0]
	if !core.Enabled || !core.Datalog || !core.CompressedDatalog || core.Slope != 0.5 || core.Offset != -64 {
		t.Fatalf("unexpected core config %+v", core)
	}
	if len(core.IgnoredSensors) != 1 || core.IgnoredSensors[0] != "2" {
		t.Fatalf("unexpected ignored sensors %v", core.IgnoredSensors)
	}
	gt := cfg.Sensors[1]
	if gt.Enabled || !gt.UseLastOnly || gt.Encoding != "twos" || gt.Slope != 1 {
		t.Fatalf("unexpected gt config %+v", gt)
	}
}

func TestLoadRejectsInvalidSensor(t *testing.T) {
	path := writeProps(t, "dts.core.pin = P\ndts.core.sensors = 0\ndts.core.register_size = 80\n")
	t.Setenv("SENSORCORE_PROPERTIES_PATH", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected register size error")
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	cases := []string{
		"no equals sign",
		"dts.core.colour = red",
		"dts.core = x",
		"symbol.tj = hot",
		"mqtt_qos = 3",
		"log_level = loud",
		"http_read_timeout_ms = 0",
	}
	for _, body := range cases {
		t.Run(body, func(t *testing.T) {
			t.Setenv("SENSORCORE_PROPERTIES_PATH", writeProps(t, body+"\n"))
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}
