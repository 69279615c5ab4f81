// v4
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/config"
	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/httpapi"
	"nrgchamp/sensorcore/internal/ingest"
	"nrgchamp/sensorcore/internal/metrics"
	"nrgchamp/sensorcore/internal/sensor"
	"nrgchamp/sensorcore/internal/sink"
	"nrgchamp/sensorcore/internal/testmethod"
)

// Application wires configuration, logging, the test methods, the result
// sinks, the capture consumer and the HTTP API.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	logFile   *os.File
	accessLog *os.File
	server    *http.Server
	health    *httpapi.HealthState
	sinks     *sink.Fanout
	consumer  *ingest.CaptureConsumer
}

// New prepares a fully wired service instance. Every resource opened before
// a failure is released again.
func New(cfg config.Config) (_ *Application, err error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	lf, err := openAppend(cfg.LogFilePath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	a := &Application{cfg: cfg, logFile: lf, health: httpapi.NewHealthState()}
	var outputs []sink.Sink
	defer func() {
		if err == nil {
			return
		}
		if a.sinks == nil {
			for _, o := range outputs {
				_ = o.Close()
			}
		}
		_ = a.Close()
	}()
	a.logger = newLogger(lf, cfg.LogLevel)
	logger := a.logger
	m := metrics.New()

	var archive *sink.Archive
	if cfg.ArchiveEnabled {
		archive, err = sink.NewArchive(cfg.ArchivePath, logger.With(slog.String("component", "archive")))
		if err != nil {
			return nil, fmt.Errorf("archive init: %w", err)
		}
		outputs = append(outputs, archive)
	}
	if cfg.KafkaSinkEnabled {
		kb, err := newKafkaBreaker("kafka-results", cfg.Breaker, logger, m)
		if err != nil {
			return nil, err
		}
		ks, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.ResultTopic,
			Compression:  cfg.KafkaCompression,
			RequiredAcks: cfg.KafkaAcks,
		}, kb, logger.With(slog.String("component", "kafka_sink")))
		if err != nil {
			return nil, fmt.Errorf("kafka sink init: %w", err)
		}
		outputs = append(outputs, ks)
	}
	if cfg.MQTTEnabled {
		var br *circuitbreaker.Breaker
		if cfg.Breaker.Enabled {
			br = circuitbreaker.New("mqtt-results", circuitbreaker.Config{
				MaxFailures:      cfg.Breaker.FailureThreshold,
				ResetTimeout:     cfg.Breaker.OpenFor,
				SuccessesToClose: cfg.Breaker.SuccessThreshold,
			}, logger, nil)
			watchBreaker(m, "mqtt-results", br)
		}
		ms, mqttErr := sink.NewMQTT(sink.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         cfg.MQTTQoS,
		}, br, logger.With(slog.String("component", "mqtt_sink")))
		if mqttErr != nil {
			logger.Warn("mqtt_sink_unavailable", slog.String("broker", cfg.MQTTBroker), slog.Any("err", mqttErr))
		} else {
			outputs = append(outputs, ms)
		}
	}
	a.sinks = sink.NewFanout(logger.With(slog.String("component", "sinks")), m, outputs...)
	logger.Info("sinks_configured", slog.String("sinks", strings.Join(a.sinks.Names(), ",")))

	set, err := sensor.NewSet(cfg.Sensors...)
	if err != nil {
		return nil, fmt.Errorf("sensor configuration: %w", err)
	}
	symbols := dts.Symbols(cfg.Symbols)
	dtsMethod := testmethod.NewDTS(cfg.DTSTestName, set, symbols, a.sinks, m, logger.With(slog.String("component", "dts")))
	if set.Len() == 0 {
		logger.Warn("no_sensor_configurations", slog.String("properties_path", cfg.PropertiesPath))
	} else if err = dtsMethod.Verify(); err != nil {
		return nil, fmt.Errorf("dts verify: %w", err)
	}
	fivrMethod := testmethod.NewFIVR(cfg.FIVRTestName, testmethod.FitLimits{MinRSquared: cfg.FIVRMinRSquared}, a.sinks, m, logger.With(slog.String("component", "fivr")))
	if err = fivrMethod.Verify(); err != nil {
		return nil, fmt.Errorf("fivr verify: %w", err)
	}

	if cfg.IngestEnabled {
		kb, err := newKafkaBreaker("kafka-captures", cfg.Breaker, logger, m)
		if err != nil {
			return nil, err
		}
		consumerLogger := logger.With(slog.String("component", "capture_consumer"))
		a.consumer, err = ingest.NewCaptureConsumer(ingest.CaptureConsumerConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.CaptureTopic,
			GroupID:     cfg.CaptureGroupID,
			PollTimeout: cfg.PollTimeout,
		}, dtsMethod, kb, m, consumerLogger)
		if err != nil {
			return nil, fmt.Errorf("capture consumer init: %w", err)
		}
	}

	deps := httpapi.Deps{
		Logger:  logger.With(slog.String("component", "http")),
		Health:  a.health,
		Metrics: m,
		DTS:     dtsMethod,
		FIVR:    fivrMethod,
		Symbols: symbols,
	}
	if archive != nil {
		deps.Archive = archive
	}
	var access io.Writer
	if cfg.AccessLogPath != "" {
		a.accessLog, err = openAppend(cfg.AccessLogPath)
		if err != nil {
			return nil, fmt.Errorf("open access log: %w", err)
		}
		access = a.accessLog
	}
	a.server = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           httpapi.Wrap(logger, access, httpapi.NewRouter(deps)),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}
	return a, nil
}

// Logger exposes the configured slog logger.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until the context is cancelled or the HTTP server terminates
// unexpectedly, then shuts everything down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCh := make(chan error, 1)
	go func() {
		a.health.SetReady(true)
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	var consumerCh chan error
	if a.consumer != nil {
		consumerCh = make(chan error, 1)
		go func() {
			consumerCh <- a.consumer.Run(ctx)
		}()
	}

	var httpErr, consumerErr error
	for {
		select {
		case err := <-httpCh:
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http_server_error", slog.Any("err", err))
				httpErr = err
			} else {
				a.logger.Info("server_closed")
			}
			cancel()
		case err := <-consumerCh:
			consumerCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("capture_consumer_error", slog.Any("err", err))
				consumerErr = err
			} else {
				a.logger.Info("capture_consumer_completed")
			}
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			a.health.SetReady(false)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("server_shutdown_failed", slog.Any("err", err))
				if httpErr == nil {
					httpErr = fmt.Errorf("shutdown: %w", err)
				}
			}
			shutdownCancel()
			if httpCh != nil {
				if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
					httpErr = err
				}
			}
			if consumerCh != nil {
				if err := <-consumerCh; err != nil && !errors.Is(err, context.Canceled) && consumerErr == nil {
					consumerErr = err
				}
			}
			return errors.Join(httpErr, consumerErr)
		}
	}
}

// Close releases the consumer, the sinks and the log files.
func (a *Application) Close() error {
	var errs []error
	if a.consumer != nil {
		errs = append(errs, a.consumer.Close())
	}
	if a.sinks != nil {
		errs = append(errs, a.sinks.Close())
	}
	if a.accessLog != nil {
		errs = append(errs, a.accessLog.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

func openAppend(path string) (*os.File, error) {
	path = filepath.Clean(path)
	if path == "" || path == "." {
		return nil, errors.New("path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func newKafkaBreaker(name string, s circuitbreaker.Settings, logger *slog.Logger, m *metrics.Metrics) (*circuitbreaker.KafkaBreaker, error) {
	kb, err := circuitbreaker.NewKafkaBreaker(name, s, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("%s breaker: %w", name, err)
	}
	watchBreaker(m, name, kb.Breaker())
	return kb, nil
}

// watchBreaker mirrors breaker transitions into the cb_state gauge.
func watchBreaker(m *metrics.Metrics, target string, b *circuitbreaker.Breaker) {
	if b == nil {
		return
	}
	m.SetCircuitBreakerState(target, 0)
	b.OnStateChange(func(_ string, to circuitbreaker.State) {
		m.SetCircuitBreakerState(target, breakerGauge(to))
	})
}

func breakerGauge(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.HalfOpen:
		return 1
	case circuitbreaker.Open:
		return 2
	default:
		return 0
	}
}
