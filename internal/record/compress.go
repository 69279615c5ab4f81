// v0
// internal/record/compress.go
package record

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// maxInflated caps Decompress output so a hostile payload cannot exhaust memory.
const maxInflated = 16 << 20

// ErrTooLarge is returned when an inflated record exceeds maxInflated.
var ErrTooLarge = errors.New("inflated record too large")

// Compress deflates text and encodes it as standard base64 so it can travel
// through text-only datalog channels.
func Compress(text string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("flate writer: %w", err)
	}
	if _, err := io.WriteString(w, text); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("deflate close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress.
func Decompress(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflated+1))
	if err != nil {
		return "", fmt.Errorf("inflate: %w", err)
	}
	if len(out) > maxInflated {
		return "", ErrTooLarge
	}
	return string(out), nil
}
