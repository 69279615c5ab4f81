// v4
// internal/circuitbreaker/kafkacb.go
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter mirrors the subset of kafka.Writer used by the breaker wrappers.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// kafkaMessageReader mirrors the subset of kafka.Reader used by the breaker wrappers.
type kafkaMessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// Settings are the runtime tunables shared by every breaker-guarded client.
type Settings struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	OpenFor          time.Duration
	Timeout          time.Duration
	Backoff          time.Duration
}

// DefaultSettings returns the defaults used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenFor:          30 * time.Second,
		Timeout:          3 * time.Second,
		Backoff:          200 * time.Millisecond,
	}
}

// Validate rejects nonsensical tunables.
func (s Settings) Validate() error {
	if s.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be >= 1")
	}
	if s.SuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be >= 1")
	}
	if s.OpenFor <= 0 {
		return fmt.Errorf("breaker open duration must be > 0")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("breaker timeout must be >= 0")
	}
	if s.Backoff < 0 {
		return fmt.Errorf("breaker backoff must be >= 0")
	}
	return nil
}

// SettingsFromEnv overlays the CB_* environment variables on base:
//   - CB_ENABLED
//   - CB_KAFKA_FAILURE_THRESHOLD
//   - CB_KAFKA_SUCCESS_THRESHOLD
//   - CB_KAFKA_OPEN_SECONDS
//   - CB_KAFKA_TIMEOUT_MS
//   - CB_KAFKA_BACKOFF_MS
func SettingsFromEnv(base Settings) (Settings, error) {
	s := base
	if raw, ok := os.LookupEnv("CB_ENABLED"); ok && strings.TrimSpace(raw) != "" {
		s.Enabled = ParseBool(raw)
	}
	var err error
	if s.FailureThreshold, err = envValue("CB_KAFKA_FAILURE_THRESHOLD", s.FailureThreshold, strconv.Atoi); err != nil {
		return base, err
	}
	if s.SuccessThreshold, err = envValue("CB_KAFKA_SUCCESS_THRESHOLD", s.SuccessThreshold, strconv.Atoi); err != nil {
		return base, err
	}
	openSeconds, err := envValue("CB_KAFKA_OPEN_SECONDS", s.OpenFor.Seconds(), parseFloat)
	if err != nil {
		return base, err
	}
	s.OpenFor = time.Duration(math.Round(openSeconds * float64(time.Second)))
	timeoutMS, err := envValue("CB_KAFKA_TIMEOUT_MS", int(s.Timeout/time.Millisecond), strconv.Atoi)
	if err != nil {
		return base, err
	}
	s.Timeout = time.Duration(timeoutMS) * time.Millisecond
	backoffMS, err := envValue("CB_KAFKA_BACKOFF_MS", int(s.Backoff/time.Millisecond), strconv.Atoi)
	if err != nil {
		return base, err
	}
	s.Backoff = time.Duration(backoffMS) * time.Millisecond
	return s, s.Validate()
}

// KafkaBreaker couples a Breaker with per-attempt timeout and retry back-off.
type KafkaBreaker struct {
	enabled          bool
	failureThreshold int
	timeout          time.Duration
	backoff          time.Duration
	breaker          *Breaker
}

// NewKafkaBreaker builds a KafkaBreaker. When disabled, calls pass straight through.
func NewKafkaBreaker(name string, s Settings, logger *slog.Logger, probe func(ctx context.Context) error) (*KafkaBreaker, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	kb := &KafkaBreaker{
		enabled:          s.Enabled,
		failureThreshold: s.FailureThreshold,
		timeout:          s.Timeout,
		backoff:          s.Backoff,
	}
	if s.Enabled {
		kb.breaker = New(name, Config{
			MaxFailures:      s.FailureThreshold,
			ResetTimeout:     s.OpenFor,
			SuccessesToClose: s.SuccessThreshold,
		}, logger, probe)
	}
	return kb, nil
}

// Enabled reports whether breaker protections are active.
func (k *KafkaBreaker) Enabled() bool {
	return k != nil && k.enabled && k.breaker != nil
}

// Breaker exposes the underlying breaker for inspection and testing.
func (k *KafkaBreaker) Breaker() *Breaker {
	if k == nil {
		return nil
	}
	return k.breaker
}

var errNilClient = errors.New("nil kafka client")

// CBKafkaWriter sends every WriteMessages call through a KafkaBreaker.
type CBKafkaWriter struct {
	next    kafkaMessageWriter
	breaker *KafkaBreaker
}

func NewCBKafkaWriter(next kafkaMessageWriter, breaker *KafkaBreaker) *CBKafkaWriter {
	return &CBKafkaWriter{next: next, breaker: breaker}
}

func (w *CBKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.next == nil {
		return errNilClient
	}
	return w.breaker.Do(ctx, func(c context.Context) error {
		return w.next.WriteMessages(c, msgs...)
	})
}

// CBKafkaReader sends every FetchMessage call through a KafkaBreaker.
type CBKafkaReader struct {
	next    kafkaMessageReader
	breaker *KafkaBreaker
}

func NewCBKafkaReader(next kafkaMessageReader, breaker *KafkaBreaker) *CBKafkaReader {
	return &CBKafkaReader{next: next, breaker: breaker}
}

func (r *CBKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r == nil || r.next == nil {
		return kafka.Message{}, errNilClient
	}
	var msg kafka.Message
	err := r.breaker.Do(ctx, func(c context.Context) error {
		var ferr error
		msg, ferr = r.next.FetchMessage(c)
		return ferr
	})
	return msg, err
}

// Do runs op through the breaker with a per-attempt timeout. Plain failures
// are retried after the back-off until failureThreshold of them were seen;
// fast-fails from an open breaker are retried without counting. A disabled
// or nil KafkaBreaker runs op once.
func (k *KafkaBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if !k.Enabled() {
		return op(ctx)
	}
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := k.attempt(ctx, op)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !errors.Is(err, ErrOpen):
			failures++
			if failures >= k.failureThreshold {
				return err
			}
		}
		if err := sleepCtx(ctx, k.backoff); err != nil {
			return err
		}
	}
}

func (k *KafkaBreaker) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	return k.breaker.Execute(ctx, op)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// envValue parses key with parse, keeping def when the variable is unset or blank.
func envValue[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// ParseBool accepts 1/true/yes/on, case-insensitively.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
