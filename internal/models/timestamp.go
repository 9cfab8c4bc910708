package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout matches the ISO-8601 rendering the dashboard expects inside
// timestamp wrappers.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp serialises as {"value": "<ISO-8601>"}, the wrapper shape the
// warehouse client libraries emit for TIMESTAMP columns.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalised to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

type timestampWire struct {
	Value string `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(timestampWire{Value: t.UTC().Format(TimestampLayout)})
}

// UnmarshalJSON implements json.Unmarshaler. Any RFC 3339 value is accepted.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var wire timestampWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode timestamp wrapper: %w", err)
	}
	if wire.Value == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, wire.Value)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", wire.Value, err)
	}
	t.Time = parsed.UTC()
	return nil
}
