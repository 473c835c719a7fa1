package grid

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/types"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

func at(ms int, v float64) types.Snapshot {
	return types.Snapshot{
		Timestamp: base.Add(time.Duration(ms) * time.Millisecond),
		Tags:      types.Tags{"x": types.Number(v)},
	}
}

func valueAt(t *testing.T, row types.GridRow) float64 {
	t.Helper()
	v, ok := row.Tags["x"]
	if !ok {
		t.Fatalf("row %s has no tag x", row.Timestamp.Format(types.RowTimeLayout))
	}
	return v.Num
}

func TestResample_ZeroOrderHold(t *testing.T) {
	samples := []types.Snapshot{at(35, 3), at(0, 1), at(15, 2)}

	rows, held := Resample(base, 20*time.Millisecond, samples, nil)

	if len(rows) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(rows))
	}

	tests := []struct {
		row  int
		want float64
	}{
		{0, 1},  // +0ms: snapshot at 0ms (inclusive)
		{1, 2},  // +20ms: snapshot at 15ms
		{2, 3},  // +40ms: snapshot at 35ms
		{3, 3},  // +60ms: held
		{49, 3}, // +980ms: held
	}
	for _, tt := range tests {
		if got := valueAt(t, rows[tt.row]); got != tt.want {
			t.Errorf("row %d: expected x=%v, got %v", tt.row, tt.want, got)
		}
	}

	for k, row := range rows {
		want := base.Add(time.Duration(k) * 20 * time.Millisecond)
		if !row.Timestamp.Equal(want) {
			t.Errorf("row %d: expected timestamp %v, got %v", k, want, row.Timestamp)
		}
	}

	if held["x"].Num != 3 {
		t.Errorf("expected held x=3, got %v", held["x"])
	}
}

func TestResample_UnsetBeforeFirstSnapshot(t *testing.T) {
	rows, held := Resample(base, 20*time.Millisecond, []types.Snapshot{at(50, 7)}, nil)

	for k := 0; k < 3; k++ {
		if rows[k].Tags != nil {
			t.Errorf("row %d: expected unset tags, got %v", k, rows[k].Tags)
		}
	}
	if got := valueAt(t, rows[3]); got != 7 {
		t.Errorf("row 3 (+60ms): expected x=7, got %v", got)
	}
	if held["x"].Num != 7 {
		t.Errorf("expected held x=7")
	}
}

func TestResample_HeldAcrossWindows(t *testing.T) {
	_, held := Resample(base, 20*time.Millisecond, []types.Snapshot{at(500, 4)}, nil)

	next := base.Add(time.Second)
	rows, held2 := Resample(next, 20*time.Millisecond, nil, held)

	for k, row := range rows {
		if got := valueAt(t, row); got != 4 {
			t.Fatalf("row %d of empty window: expected held x=4, got %v", k, got)
		}
	}
	if held2["x"].Num != 4 {
		t.Errorf("held value should survive an empty window")
	}
}

func TestResample_SnapshotAfterLastInstantCarries(t *testing.T) {
	// 990ms is after the last grid instant (980ms) but inside the window.
	_, held := Resample(base, 20*time.Millisecond, []types.Snapshot{at(100, 1), at(990, 2)}, nil)

	if held["x"].Num != 2 {
		t.Fatalf("expected snapshot at 990ms to be held for the next window, got %v", held["x"])
	}

	rows, _ := Resample(base.Add(time.Second), 20*time.Millisecond, nil, held)
	if got := valueAt(t, rows[0]); got != 2 {
		t.Errorf("first row of next window: expected x=2, got %v", got)
	}
}

func TestResample_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	samples := []types.Snapshot{at(10, 1), at(10, 2)}
	rows, _ := Resample(base, 20*time.Millisecond, samples, nil)

	if got := valueAt(t, rows[1]); got != 2 {
		t.Errorf("expected later arrival to win on equal timestamps, got %v", got)
	}
}

func TestResample_OtherIntervals(t *testing.T) {
	rows, _ := Resample(base, 100*time.Millisecond, nil, nil)
	if len(rows) != 10 {
		t.Errorf("expected 10 rows at 100ms, got %d", len(rows))
	}
}

func TestMinuteCounter(t *testing.T) {
	var c MinuteCounter

	t0 := time.Date(2024, 5, 1, 10, 0, 58, 0, time.Local)
	for i := 1; i <= 3; i++ {
		k := c.Next(t0.Add(time.Duration(i-1) * 500 * time.Millisecond))
		if k.SID != i || k.Minute != "2024-05-01_10-00" {
			t.Errorf("call %d: unexpected key %v", i, k)
		}
	}

	k := c.Next(time.Date(2024, 5, 1, 10, 1, 0, 0, time.Local))
	if k.SID != 1 || k.Minute != "2024-05-01_10-01" {
		t.Errorf("expected sid reset at minute boundary, got %v", k)
	}

	k = c.Next(time.Date(2024, 5, 1, 10, 1, 0, 500, time.Local))
	if k.SID != 2 {
		t.Errorf("expected sid=2, got %v", k)
	}
}

func newTestAggregator(raw *buffer.RingBuffer) (*Aggregator, *pending.Store, *dispatch.Queue, *dispatch.Queue) {
	store := pending.New()
	storeQ := dispatch.New("store", 16)
	apiQ := dispatch.New("api", 16)
	a := NewAggregator(Config{Interval: 20 * time.Millisecond, Poll: time.Millisecond}, raw, store, storeQ, apiQ, nil)
	a.start = base
	return a, store, storeQ, apiQ
}

func TestAggregator_StepFansOut(t *testing.T) {
	raw := buffer.New(64)
	a, store, storeQ, apiQ := newTestAggregator(raw)

	clock := base.Add(1100 * time.Millisecond)
	a.now = func() time.Time { return clock }

	raw.PushOverwrite(at(0, 1))
	raw.PushOverwrite(at(15, 2))
	raw.PushOverwrite(at(35, 3))
	raw.PushOverwrite(at(1010, 9)) // belongs to the next window

	batch, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	if batch.Len() != 50 {
		t.Fatalf("expected 50 rows, got %d", batch.Len())
	}
	if batch.Key.SID != 1 || batch.Key.Minute != "2024-05-01_10-00" {
		t.Errorf("unexpected key %v", batch.Key)
	}
	if got := valueAt(t, batch.Rows[49]); got != 3 {
		t.Errorf("lookahead snapshot leaked into window: last row x=%v", got)
	}

	if storeQ.Len() != 1 || apiQ.Len() != 1 {
		t.Errorf("expected key on both queues, got store=%d api=%d", storeQ.Len(), apiQ.Len())
	}
	pb, ok := store.Get(batch.Key)
	if !ok || pb.StoreDone || pb.APIDone {
		t.Errorf("expected pending batch with cleared flags, got %+v ok=%v", pb, ok)
	}

	// Next window consumes the lookahead.
	clock = base.Add(2100 * time.Millisecond)
	batch2, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if batch2.Key.SID != 2 {
		t.Errorf("expected sid=2, got %d", batch2.Key.SID)
	}
	if got := valueAt(t, batch2.Rows[0]); got != 3 {
		t.Errorf("row at +1000ms: expected held x=3, got %v", got)
	}
	if got := valueAt(t, batch2.Rows[1]); got != 9 {
		t.Errorf("row at +1020ms: expected x=9, got %v", got)
	}
	if !batch2.Start.Equal(base.Add(time.Second)) {
		t.Errorf("windows must be contiguous, got start %v", batch2.Start)
	}
}

func TestAggregator_SnapshotOnWindowBoundary(t *testing.T) {
	raw := buffer.New(8)
	a, _, _, _ := newTestAggregator(raw)

	clock := base.Add(1100 * time.Millisecond)
	a.now = func() time.Time { return clock }

	raw.PushOverwrite(at(0, 1))
	raw.PushOverwrite(at(1000, 7)) // exactly the next window's first instant

	batch, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := valueAt(t, batch.Rows[batch.Len()-1]); got != 1 {
		t.Errorf("window end is exclusive: last row x=%v, want 1", got)
	}

	clock = base.Add(2100 * time.Millisecond)
	batch2, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if got := valueAt(t, batch2.Rows[0]); got != 7 {
		t.Errorf("grid instant is inclusive: first row x=%v, want 7", got)
	}
}

func TestAggregator_EmptyWindowsAreNotSkipped(t *testing.T) {
	raw := buffer.New(8)
	a, _, _, _ := newTestAggregator(raw)
	a.now = func() time.Time { return base.Add(10 * time.Second) }

	for i := 0; i < 3; i++ {
		batch, err := a.Step(context.Background())
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !batch.Start.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Errorf("step %d: unexpected start %v", i, batch.Start)
		}
		if batch.Rows[0].Tags != nil {
			t.Errorf("step %d: expected unset tags before any snapshot", i)
		}
	}
	if a.Built() != 3 {
		t.Errorf("expected 3 batches, got %d", a.Built())
	}
}

func TestAggregator_WaitsForWindowEnd(t *testing.T) {
	raw := buffer.New(8)
	a, _, _, _ := newTestAggregator(raw)

	// Wall clock inside the window: Step must not finish until it passes.
	var clock atomic64
	clock.set(base.Add(500 * time.Millisecond))
	a.now = clock.get

	done := make(chan *types.SecondBatch, 1)
	go func() {
		b, _ := a.Step(context.Background())
		done <- b
	}()

	select {
	case <-done:
		t.Fatal("step returned before the window closed")
	case <-time.After(30 * time.Millisecond):
	}

	raw.PushOverwrite(at(600, 5))
	clock.set(base.Add(1001 * time.Millisecond))

	select {
	case b := <-done:
		if got := valueAt(t, b.Rows[30]); got != 5 {
			t.Errorf("row at +600ms: expected x=5, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("step did not finish after the window closed")
	}
}

func TestAggregator_RunStopsOnCancel(t *testing.T) {
	raw := buffer.New(8)
	a, _, _, _ := newTestAggregator(raw)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator did not stop")
	}
}
