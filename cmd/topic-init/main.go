// v1
// cmd/topic-init/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/config"
)

const defaultLogPath = "logs/topic-init.log"

type options struct {
	partitions  int
	replication int
	logPath     string
}

// topicPlan is one topic and the partition count it must end up with.
type topicPlan struct {
	name       string
	role       string
	partitions int
}

func main() {
	opts := options{}
	flag.IntVar(&opts.partitions, "partitions", 3, "Partition count for capture and result topics")
	flag.IntVar(&opts.replication, "replication", 1, "Replication factor for created topics")
	flag.StringVar(&opts.logPath, "log", defaultLogPath, "Path for JSON log output")
	flag.Parse()

	if opts.partitions < 1 || opts.replication < 1 {
		fmt.Println("--partitions and --replication must be positive")
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config: %v\n", err)
		os.Exit(2)
	}

	logger, logFile, err := setupLogger(opts.logPath)
	if err != nil {
		fmt.Printf("logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logger.Warn("logfile_close", "err", cerr)
		}
	}()

	plan := buildPlan(cfg, opts.partitions)
	logger.Info("topic_init_start", "brokers", cfg.KafkaBrokers, "topics", len(plan), "replication", opts.replication)
	if len(plan) == 0 {
		logger.Info("topic_init_skipped", "reason", "ingest and kafka sink disabled")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := ensureTopics(ctx, logger, cfg.KafkaBrokers, plan, opts.replication); err != nil {
		logger.Error("topic_init_failed", "err", err)
		os.Exit(1)
	}
	logger.Info("topic_init_complete", "topics", len(plan))
}

// buildPlan lists the topics the enabled Kafka components use.
func buildPlan(cfg config.Config, partitions int) []topicPlan {
	var plan []topicPlan
	if cfg.IngestEnabled {
		plan = append(plan, topicPlan{name: cfg.CaptureTopic, role: "captures", partitions: partitions})
	}
	if cfg.KafkaSinkEnabled && cfg.ResultTopic != cfg.CaptureTopic {
		plan = append(plan, topicPlan{name: cfg.ResultTopic, role: "results", partitions: partitions})
	}
	return plan
}

func setupLogger(path string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	lf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, lf), &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), lf, nil
}

func ensureTopics(ctx context.Context, log *slog.Logger, brokers []string, plan []topicPlan, replication int) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Warn("broker_close", "err", cerr)
		}
	}()
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("fetch controller metadata: %w", err)
	}
	ctrlAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)
	admin, err := kafka.DialContext(dialCtx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", ctrlAddr, err)
	}
	defer func() {
		if cerr := admin.Close(); cerr != nil {
			log.Warn("controller_close", "err", cerr)
		}
	}()
	if err := admin.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Warn("controller_deadline", "err", err)
	}

	configs := make([]kafka.TopicConfig, 0, len(plan))
	for _, t := range plan {
		configs = append(configs, kafka.TopicConfig{Topic: t.name, NumPartitions: t.partitions, ReplicationFactor: replication})
	}
	if err := admin.CreateTopics(configs...); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("create topics: %w", err)
		}
		log.Info("topics_exist", "error", err)
	} else {
		log.Info("topics_created", "count", len(configs))
	}

	for _, t := range plan {
		partitions, err := admin.ReadPartitions(t.name)
		if err != nil {
			return fmt.Errorf("read partitions for %s: %w", t.name, err)
		}
		if got := countPartitions(partitions, t.name); got < t.partitions {
			// Pre-existing topics may carry more partitions.
			return fmt.Errorf("%s topic %s has %d partitions; expected at least %d", t.role, t.name, got, t.partitions)
		}
		log.Info("topic_ready", "role", t.role, "topic", t.name)
	}
	return nil
}

func countPartitions(parts []kafka.Partition, topic string) int {
	seen := map[int]struct{}{}
	for _, p := range parts {
		if p.Topic == topic {
			seen[p.ID] = struct{}{}
		}
	}
	return len(seen)
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return true
	}
	return strings.Contains(err.Error(), "Topic with this name already exists")
}
