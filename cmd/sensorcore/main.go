// v1
// cmd/sensorcore/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nrgchamp/sensorcore/internal/app"
	"nrgchamp/sensorcore/internal/config"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("kafka_brokers", strings.Join(cfg.KafkaBrokers, ",")),
		slog.Bool("ingest_enabled", cfg.IngestEnabled),
		slog.String("capture_topic", cfg.CaptureTopic),
		slog.Bool("kafka_sink_enabled", cfg.KafkaSinkEnabled),
		slog.String("result_topic", cfg.ResultTopic),
		slog.Bool("mqtt_enabled", cfg.MQTTEnabled),
		slog.Bool("archive_enabled", cfg.ArchiveEnabled),
		slog.Int("sensor_configs", len(cfg.Sensors)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("service_stopped")
}
