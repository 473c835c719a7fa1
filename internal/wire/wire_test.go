package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/xtxerr/gridrelay/internal/types"
)

func TestRowStream(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 7, 20*int(time.Millisecond), time.Local)
	rows := []types.GridRow{
		{Timestamp: ts},
		{Timestamp: ts.Add(20 * time.Millisecond), Tags: types.Tags{
			"speed":   types.Number(12.5),
			"running": types.Bool(true),
			"recipe":  types.Text("A7"),
		}},
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteAll(rows); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	got, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}

	if !got[0].Timestamp.Equal(ts) || got[0].Tags != nil {
		t.Errorf("unexpected unset row: %+v", got[0])
	}
	tags := got[1].Tags
	if tags["speed"].Num != 12.5 || !tags["running"].Bool || tags["recipe"].Text != "A7" {
		t.Errorf("unexpected tags: %v", tags)
	}
	if tags["running"].Type != types.ValueTypeBool {
		t.Errorf("bool tag decoded as %s", tags["running"].Type)
	}
}

func TestReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	row := types.GridRow{Timestamp: time.Now(), Tags: types.Tags{"x": types.Number(1)}}
	if err := NewWriter(&buf).Write(row); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data := buf.Bytes()[:buf.Len()-2]
	if _, err := NewReader(bytes.NewReader(data)).Read(); err == nil {
		t.Error("expected error for truncated row")
	}
}
