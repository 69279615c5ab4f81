// v1
// internal/sink/archive.go
package sink

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"nrgchamp/sensorcore/internal/record"
)

// ErrBrokenChain reports an archive line whose hash link does not verify.
var ErrBrokenChain = errors.New("archive hash chain broken")

const maxArchiveLine = 32 << 20

// Archived is one line of the archive file.
type Archived struct {
	Seq      int64           `json:"seq"`
	PrevHash string          `json:"prevHash"`
	Hash     string          `json:"hash"`
	Envelope record.Envelope `json:"envelope"`
}

func (a Archived) computeHash() (string, error) {
	a.Hash = ""
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// archiveFile is the subset of *os.File the archive uses.
type archiveFile interface {
	io.ReadWriteSeeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// Archive is an append-only JSON-lines store of envelopes. Every line carries
// the hash of its predecessor so edits to the file are detected on load.
type Archive struct {
	mu       sync.RWMutex
	path     string
	log      *slog.Logger
	file     archiveFile
	size     int64
	closed   bool
	lastSeq  int64
	lastHash string
	records  []Archived
	byDevice map[string][]int
}

// NewArchive opens (or creates) the archive file and replays it.
func NewArchive(path string, log *slog.Logger) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	a := &Archive{path: path, log: log, file: f}
	if err := a.load(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load() error {
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	a.records = nil
	a.byDevice = make(map[string][]int)
	a.lastSeq = 0
	a.lastHash = ""
	scanner := bufio.NewScanner(a.file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxArchiveLine)
	line := 0
	var offset, tornAt int64
	var tornErr error
	for scanner.Scan() {
		line++
		start := offset
		offset += int64(len(scanner.Bytes())) + 1
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if tornErr != nil {
			return tornErr
		}
		var rec Archived
		if err := json.Unmarshal(raw, &rec); err != nil {
			tornAt, tornErr = start, fmt.Errorf("line %d: %w", line, err)
			continue
		}
		if rec.PrevHash != a.lastHash {
			return fmt.Errorf("line %d: %w: prevHash mismatch", line, ErrBrokenChain)
		}
		want, err := rec.computeHash()
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if want != rec.Hash {
			return fmt.Errorf("line %d: %w: hash mismatch", line, ErrBrokenChain)
		}
		a.index(rec)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	size, err := a.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if tornErr != nil {
		// Only an unterminated final line is an interrupted append.
		if offset <= size {
			return tornErr
		}
		a.log.Warn("archive_tail_truncated", "path", a.path, "offset", tornAt, "err", tornErr)
		if err := a.truncate(tornAt); err != nil {
			return err
		}
		size = tornAt
	}
	a.size = size
	a.log.Info("archive_loaded", "path", a.path, "records", len(a.records), "lastSeq", a.lastSeq)
	return nil
}

// truncate cuts the file back to size and moves the write offset there.
func (a *Archive) truncate(size int64) error {
	if err := a.file.Truncate(size); err != nil {
		return err
	}
	_, err := a.file.Seek(size, io.SeekStart)
	return err
}

func (a *Archive) index(rec Archived) {
	a.records = append(a.records, rec)
	a.byDevice[rec.Envelope.DeviceID] = append(a.byDevice[rec.Envelope.DeviceID], len(a.records)-1)
	if rec.Seq > a.lastSeq {
		a.lastSeq = rec.Seq
	}
	a.lastHash = rec.Hash
}

// Name implements Sink.
func (a *Archive) Name() string { return "archive" }

// Publish implements Sink.
func (a *Archive) Publish(_ context.Context, env record.Envelope) error {
	_, err := a.Append(env)
	return err
}

// Append writes env as the next chained record and returns it.
func (a *Archive) Append(env record.Envelope) (Archived, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Archived{}, errors.New("archive closed")
	}
	rec := Archived{Seq: a.lastSeq + 1, PrevHash: a.lastHash, Envelope: env}
	hash, err := rec.computeHash()
	if err != nil {
		return Archived{}, err
	}
	rec.Hash = hash
	payload, err := json.Marshal(rec)
	if err != nil {
		return Archived{}, err
	}
	n, err := a.file.Write(append(payload, '\n'))
	if err == nil {
		err = a.file.Sync()
	}
	if err != nil {
		if n > 0 {
			if terr := a.truncate(a.size); terr != nil {
				a.log.Error("archive_rollback_failed", "offset", a.size, "err", terr)
			}
		}
		return Archived{}, err
	}
	a.size += int64(n)
	a.index(rec)
	a.log.Debug("archive_appended", "seq", rec.Seq, "device", env.DeviceID, "test", env.Test)
	return rec, nil
}

// List returns the archived records of one device, oldest first.
func (a *Archive) List(deviceID string) []Archived {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx := a.byDevice[deviceID]
	out := make([]Archived, 0, len(idx))
	for _, i := range idx {
		out = append(out, a.records[i])
	}
	return out
}

// Len reports the number of archived records.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Close closes the file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.file.Close()
}
