// v0
// internal/record/envelope.go
package record

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which test method produced an envelope.
type Kind string

const (
	KindDTS  Kind = "dts"
	KindFIVR Kind = "fivr"
)

// Entry is one tagged datalog line.
type Entry struct {
	Tag        string `json:"tag"`
	Data       string `json:"data"`
	Compressed bool   `json:"compressed,omitempty"`
}

// Envelope groups every entry produced by one device execution.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Test      string    `json:"test"`
	DeviceID  string    `json:"deviceId"`
	Port      int       `json:"port"`
	Pass      bool      `json:"pass"`
	CreatedAt time.Time `json:"createdAt"`
	Entries   []Entry   `json:"entries"`
}

// NewEnvelope stamps a fresh id and UTC creation time.
func NewEnvelope(kind Kind, test, deviceID string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Test:      test,
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
	}
}

// Add appends an entry.
func (e *Envelope) Add(tag, data string, compressed bool) {
	e.Entries = append(e.Entries, Entry{Tag: tag, Data: data, Compressed: compressed})
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Tag builds the datalog tag for a test instance and optional suffixes.
func Tag(test string, parts ...string) string {
	t := test
	for _, p := range parts {
		if p == "" {
			continue
		}
		t += "_" + p
	}
	return t
}
