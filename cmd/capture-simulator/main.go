// v1
// cmd/capture-simulator/main.go
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/config"
	"nrgchamp/sensorcore/internal/dts"
	"nrgchamp/sensorcore/internal/sensor"
)

func main() {
	logger := initLogger()
	logger.Info("capture simulator starting")

	svc, err := config.Load()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	simCfg, err := loadSimConfig()
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}
	set, err := sensor.NewSet(svc.Sensors...)
	if err != nil {
		logger.Error("sensor configuration error", "err", err)
		os.Exit(1)
	}
	sim := newSimulator(simCfg, set, dts.Symbols(svc.Symbols), logger)
	if len(sim.configs) == 0 {
		logger.Error("no enabled sensor configurations", "properties_path", svc.PropertiesPath)
		os.Exit(1)
	}

	units := simCfg.UnitIDs
	for len(units) < simCfg.Units {
		units = append(units, uuid.NewString())
	}

	kb, err := circuitbreaker.NewKafkaBreaker("kafka-captures-sim", svc.Breaker, logger, nil)
	if err != nil {
		logger.Error("breaker error", "err", err)
		os.Exit(1)
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(svc.KafkaBrokers...),
		Topic:    svc.CaptureTopic,
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()
	logger.Info("kafka writer ready", "topic", svc.CaptureTopic, "brokers", svc.KafkaBrokers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim.run(ctx, circuitbreaker.NewCBKafkaWriter(writer, kb), units)
	time.Sleep(100 * time.Millisecond)
	logger.Info("shutdown complete")
}

func initLogger() *slog.Logger {
	logPath := os.Getenv("LOG_PATH")
	if logPath == "" {
		logPath = "capture_simulator.log"
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		l.Error("failed to open log file", "path", logPath, "err", err)
		return l
	}
	l := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, f), &slog.HandlerOptions{Level: slog.LevelInfo}))
	l.Info("logger initialized", "file", logPath)
	return l
}
