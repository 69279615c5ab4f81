// v0
// internal/app/app_test.go
package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/config"
	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/sensor"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.LogFilePath = filepath.Join(dir, "logs", "sensorcore.log")
	cfg.LogLevel = slog.LevelWarn
	cfg.ArchivePath = filepath.Join(dir, "data", "results.jsonl")
	cfg.ShutdownTimeout = time.Second
	cfg.Symbols = map[string]float64{"tj": 40}
	cfg.Sensors = []sensor.Configuration{{
		Name:           "core",
		Enabled:        true,
		Pin:            "TDO",
		Sensors:        []string{"0"},
		RegisterSize:   4,
		Slope:          10,
		SetPoint:       "tj",
		UpperTolerance: "15",
		Datalog:        true,
	}}
	return cfg
}

func TestNewWiresArchiveAndRoutes(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	capture, err := dts.Encode(dts.Samples{"0": {40}}, cfg.Sensors[0])
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := `{"deviceId":"U1","captures":{"TDO":"` + capture + `"}}`
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/dts/execute", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/results/U1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "0:40.00") {
		t.Fatalf("results: %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewRejectsUnresolvableLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.Symbols = nil
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected verify error for unknown symbol")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop")
	}
	if a.health.Ready() {
		t.Fatalf("readiness must drop on shutdown")
	}
}

func TestBreakerGaugeOrdering(t *testing.T) {
	cases := map[circuitbreaker.State]float64{
		circuitbreaker.Closed:   0,
		circuitbreaker.HalfOpen: 1,
		circuitbreaker.Open:     2,
	}
	for state, want := range cases {
		if got := breakerGauge(state); got != want {
			t.Fatalf("%s: got %v want %v", state, got, want)
		}
	}
}
