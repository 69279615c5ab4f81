// v0
// internal/sink/sink_test.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"nrgchamp/sensorcore/internal/circuitbreaker"
	"nrgchamp/sensorcore/internal/record"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEnvelope(device string) record.Envelope {
	env := record.NewEnvelope(record.KindDTS, "DTS_CORE", device)
	env.Port = 1
	env.Pass = true
	env.Add("DTS_CORE_SUMMARY", "1.00|2.00|1.50", false)
	return env
}

func TestArchiveAppendListAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archive.jsonl")
	a, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, dev := range []string{"U1", "U2", "U1"} {
		if err := a.Publish(context.Background(), sampleEnvelope(dev)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if got := len(a.List("U1")); got != 2 {
		t.Fatalf("expected 2 records for U1, got %d", got)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 3 {
		t.Fatalf("expected 3 records after reload, got %d", reopened.Len())
	}
	rec, err := reopened.Append(sampleEnvelope("U2"))
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if rec.Seq != 4 {
		t.Fatalf("expected seq 4, got %d", rec.Seq)
	}
	u2 := reopened.List("U2")
	if len(u2) != 2 || u2[1].PrevHash == "" || u2[1].PrevHash != reopened.records[2].Hash {
		t.Fatalf("chain not continued across reload: %+v", u2)
	}
}

func TestArchiveDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	a, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.Append(sampleEnvelope("U1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tampered := strings.Replace(string(raw), `"port":1`, `"port":2`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewArchive(path, quietLogger()); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain, got %v", err)
	}
}

// flakyFile writes half of the next buffer and then fails once.
type flakyFile struct {
	archiveFile
	fail bool
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.fail {
		f.fail = false
		n, _ := f.archiveFile.Write(p[:len(p)/2])
		return n, errors.New("disk full")
	}
	return f.archiveFile.Write(p)
}

func TestArchiveRollsBackFailedAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	a, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := a.Append(sampleEnvelope("U1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	a.file = &flakyFile{archiveFile: a.file, fail: true}
	if _, err := a.Append(sampleEnvelope("U2")); err == nil {
		t.Fatalf("expected write failure")
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if after.Size() != before.Size() {
		t.Fatalf("partial line left behind: %d -> %d bytes", before.Size(), after.Size())
	}
	if _, err := a.Append(sampleEnvelope("U2")); err != nil {
		t.Fatalf("append after failure: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", reopened.Len())
	}
}

func TestArchiveDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	a, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := a.Append(sampleEnvelope("U1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := f.WriteString(`{"seq":2,"prevHash":"`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	reopened, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen with torn tail: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.Append(sampleEnvelope("U1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.Seq != 2 || rec.PrevHash != first.Hash {
		t.Fatalf("chain not continued after truncation: %+v", rec)
	}
}

func TestArchiveRejectsCorruptTerminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewArchive(path, quietLogger()); err == nil {
		t.Fatalf("expected load error for a complete corrupt line")
	}
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublishKeysByDevice(t *testing.T) {
	w := &recordingWriter{}
	k := &Kafka{topic: "sensorcore.results", writer: w, log: quietLogger()}
	env := sampleEnvelope("UNIT-7")
	if err := k.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "UNIT-7" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var decoded record.Envelope
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != env.ID || len(decoded.Entries) != 1 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKafkaConfigValidate(t *testing.T) {
	good := KafkaConfig{Brokers: []string{"kafka:9092"}, Topic: "t", Compression: "lz4", RequiredAcks: -1}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := good
	bad.Compression = "brotli"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected compression error")
	}
	bad = good
	bad.Brokers = nil
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected broker error")
	}
}

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type stubPublisher struct {
	topics []string
	err    error
}

func (p *stubPublisher) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	return newDoneToken(p.err)
}

func (p *stubPublisher) Disconnect(uint) {}

func TestMQTTTopicAndBreaker(t *testing.T) {
	pub := &stubPublisher{}
	br := circuitbreaker.New("mqtt", circuitbreaker.Config{MaxFailures: 1, ResetTimeout: time.Hour}, quietLogger(), nil)
	m := newMQTT(MQTTConfig{Broker: "tcp://x:1883", TopicPrefix: "sensorcore/results/"}, pub, br, quietLogger())

	if err := m.Publish(context.Background(), sampleEnvelope("lot#3/u+1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if want := "sensorcore/results/DTS_CORE/lot_3_u_1"; pub.topics[0] != want {
		t.Fatalf("topic = %q, want %q", pub.topics[0], want)
	}

	pub.err = errors.New("broker gone")
	if err := m.Publish(context.Background(), sampleEnvelope("U1")); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected breaker to trip, got %v", err)
	}
	calls := len(pub.topics)
	if err := m.Publish(context.Background(), sampleEnvelope("U1")); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("expected fast-fail, got %v", err)
	}
	if len(pub.topics) != calls {
		t.Fatalf("open breaker must not reach the broker")
	}
}

type failingSink struct{ Discard }

func (failingSink) Name() string { return "broken" }
func (failingSink) Publish(context.Context, record.Envelope) error {
	return errors.New("nope")
}

type countingObserver struct{ ok, failed int }

func (o *countingObserver) SinkPublished(_ string, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	a, err := NewArchive(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	obs := &countingObserver{}
	f := NewFanout(quietLogger(), obs, failingSink{}, nil, a, Discard{})
	if got := strings.Join(f.Names(), ","); got != "broken,archive,discard" {
		t.Fatalf("unexpected sinks %q", got)
	}
	err = f.Publish(context.Background(), sampleEnvelope("U1"))
	if err == nil || !strings.Contains(err.Error(), "broken: nope") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("archive should still receive the envelope")
	}
	if obs.ok != 2 || obs.failed != 1 {
		t.Fatalf("observer saw ok=%d failed=%d", obs.ok, obs.failed)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
