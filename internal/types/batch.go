package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// RowTimeLayout is the wire format of row timestamps (millisecond precision).
const RowTimeLayout = "2006-01-02 15:04:05.000"

// MinuteLayout formats the wall-clock minute a batch belongs to.
const MinuteLayout = "2006-01-02_15-04"

// Tags maps tag names to values. A Tags map is never mutated after it has
// been attached to a Snapshot.
type Tags map[string]Value

// Names returns the tag names in sorted order.
func (t Tags) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot represents one acquisition of every configured tag.
type Snapshot struct {
	Timestamp time.Time
	Tags      Tags
}

// GridRow is the tag set held at one grid instant.
// Tags is nil before the first snapshot of the process lifetime.
type GridRow struct {
	Timestamp time.Time
	Tags      Tags
}

type gridRowJSON struct {
	Timestamp string `json:"timestamp"`
	Tags      Tags   `json:"tags"`
}

// MarshalJSON encodes the row as {"timestamp": "...", "tags": {...}}.
func (r GridRow) MarshalJSON() ([]byte, error) {
	tags := r.Tags
	if tags == nil {
		tags = Tags{}
	}
	return json.Marshal(gridRowJSON{
		Timestamp: r.Timestamp.Format(RowTimeLayout),
		Tags:      tags,
	})
}

// UnmarshalJSON decodes a row in local time.
func (r *GridRow) UnmarshalJSON(data []byte) error {
	var raw gridRowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(RowTimeLayout, raw.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("row timestamp: %w", err)
	}
	r.Timestamp = ts
	r.Tags = raw.Tags
	if len(r.Tags) == 0 {
		r.Tags = nil
	}
	return nil
}

// BatchKey identifies a SecondBatch: the minute label plus the sequence id
// within that minute.
type BatchKey struct {
	Minute string
	SID    int
}

// String returns "minute#sid".
func (k BatchKey) String() string {
	return fmt.Sprintf("%s#%d", k.Minute, k.SID)
}

// SecondBatch is one second of grid rows awaiting delivery to both sinks.
type SecondBatch struct {
	Key BatchKey

	// Start is the window start (inclusive).
	Start time.Time
	Rows  []GridRow

	StoreDone bool
	APIDone   bool

	// CreatedAt is when the batch entered the pending store.
	CreatedAt time.Time
}

// Complete returns true once both sinks have acknowledged the batch.
func (b *SecondBatch) Complete() bool {
	return b.StoreDone && b.APIDone
}

// Len returns the number of rows in the batch.
func (b *SecondBatch) Len() int {
	return len(b.Rows)
}
