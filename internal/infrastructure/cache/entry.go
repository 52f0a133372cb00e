package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/s2"
)

// schemaVersion is stamped into every envelope so a future format change
// can detect and discard entries written by older builds.
const schemaVersion = 1

// compressionMarker prefixes compressed payloads so Get can detect
// compression without any out-of-band signal. The sequence cannot occur at
// the start of valid JSON.
var compressionMarker = []byte{0x00, 'd', 'w', 'z'}

// entry is the versioned envelope wrapped around every cached value.
// An entry is valid iff now - CreatedAt < TTLMillis.
type entry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"` // unix milliseconds
	TTLMillis int64           `json:"ttl_ms"`
	Version   int             `json:"schema_version"`
}

// newEntry wraps a value in an envelope stamped with the given creation time.
// A marshal failure is wrapped in ErrNotSerializable.
func newEntry(value any, now time.Time, ttl time.Duration) (*entry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSerializable, err)
	}
	return &entry{
		Value:     raw,
		CreatedAt: now.UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
		Version:   schemaVersion,
	}, nil
}

// valid reports whether the entry is still live at the given instant.
func (e *entry) valid(now time.Time) bool {
	return now.UnixMilli()-e.CreatedAt < e.TTLMillis
}

// decode unmarshals the wrapped value into out.
func (e *entry) decode(out any) error {
	if out == nil {
		return ErrNilTarget
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return fmt.Errorf("%w: %w", errEntryCorrupt, err)
	}
	return nil
}

// encodeEntry serializes an envelope for the primary tier, compressing it
// when the serialized form exceeds threshold bytes. Compressed payloads are
// prefixed with compressionMarker.
func encodeEntry(e *entry, threshold int) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSerializable, err)
	}

	if threshold > 0 && len(data) > threshold {
		compressed := s2.Encode(nil, data)
		out := make([]byte, 0, len(compressionMarker)+len(compressed))
		out = append(out, compressionMarker...)
		out = append(out, compressed...)
		return out, nil
	}

	return data, nil
}

// decodeEntryBytes parses a primary-tier payload back into an envelope,
// decompressing transparently when the marker is present.
func decodeEntryBytes(data []byte) (*entry, error) {
	if bytes.HasPrefix(data, compressionMarker) {
		decompressed, err := s2.Decode(nil, data[len(compressionMarker):])
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %w", errEntryCorrupt, err)
		}
		data = decompressed
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", errEntryCorrupt, err)
	}
	if e.Version != schemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", errEntryCorrupt, e.Version)
	}
	return &e, nil
}
