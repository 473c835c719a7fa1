package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xtxerr/gridrelay/internal/backpressure"
	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/types"
)

func insert(t *testing.T, p *pending.Store, sid int) types.BatchKey {
	t.Helper()
	key := types.BatchKey{Minute: "2024-05-01_10-00", SID: sid}
	if err := p.Insert(&types.SecondBatch{Key: key}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return key
}

func TestReap_OnlyCompleteBatches(t *testing.T) {
	p := pending.New()
	r, err := New(Config{Interval: time.Millisecond, ReportInterval: time.Second}, p, Sources{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k1 := insert(t, p, 1)
	k2 := insert(t, p, 2)
	k3 := insert(t, p, 3)

	p.MarkStoreDone(k1)
	p.MarkAPIDone(k1)
	p.MarkStoreDone(k2) // API outstanding
	p.MarkAPIDone(k3)   // store outstanding

	if n := r.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if _, ok := p.Get(k1); ok {
		t.Error("complete batch should be gone")
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", p.Len())
	}

	p.MarkAPIDone(k2)
	p.MarkStoreDone(k3)
	if n := r.Reap(); n != 2 {
		t.Errorf("expected 2 reaped, got %d", n)
	}
	if r.Removed() != 3 {
		t.Errorf("expected 3 removed, got %d", r.Removed())
	}
	if r.Reap() != 0 {
		t.Error("reaping an empty store should remove nothing")
	}
}

func TestStatus(t *testing.T) {
	p := pending.New()
	raw := buffer.New(4)
	storeQ := dispatch.New("store", 8)
	apiQ := dispatch.New("api", 8)
	pc := backpressure.New(config.DefaultConfig().Queues.Pressure, raw)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r, err := New(Config{Interval: time.Millisecond, ReportInterval: time.Second}, p,
		Sources{Raw: raw, Store: storeQ, API: apiQ, Pressure: pc}, m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 6; i++ {
		raw.PushOverwrite(types.Snapshot{Timestamp: time.Now()})
	}
	k1 := insert(t, p, 1)
	insert(t, p, 2)
	storeQ.Put(context.Background(), k1)
	apiQ.Put(context.Background(), k1)
	apiQ.Put(context.Background(), k1)

	time.Sleep(5 * time.Millisecond)
	p.MarkStoreDone(k1)
	p.MarkAPIDone(k1)
	r.Reap()

	st := r.Report()
	if st.Removed != 1 || st.Backlog.Total != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.RawQ != 4 || st.RawDrops != 2 {
		t.Errorf("expected raw 4 queued / 2 dropped, got %d/%d", st.RawQ, st.RawDrops)
	}
	if st.StoreQ != 1 || st.APIQ != 2 {
		t.Errorf("unexpected queue depths store=%d api=%d", st.StoreQ, st.APIQ)
	}
	if st.P50 < 4*time.Millisecond || st.P99 < st.P50 {
		t.Errorf("unexpected latency quantiles p50=%v p99=%v", st.P50, st.P99)
	}
	if st.Pressure != backpressure.LevelEmergency {
		t.Errorf("full ring should report emergency pressure, got %s", st.Pressure)
	}

	if got := testutil.ToFloat64(m.PendingBatches); got != 1 {
		t.Errorf("pending gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("api")); got != 2 {
		t.Errorf("api queue gauge = %v, want 2", got)
	}
}

type stubCounters struct {
	reads, failures, built int64
	producer, api          int
}

func (c stubCounters) Reads() int64                 { return c.reads }
func (c stubCounters) Failures() int64              { return c.failures }
func (c stubCounters) Built() int64                 { return c.built }
func (c stubCounters) Strikes() (producer, api int) { return c.producer, c.api }

func TestStatus_ComponentCounters(t *testing.T) {
	c := stubCounters{reads: 120, failures: 3, built: 7, producer: 1, api: 2}
	r, err := New(Config{Interval: time.Millisecond, ReportInterval: time.Second}, pending.New(), Sources{
		Producer:   c,
		Aggregator: c,
		StoreSink:  stubCounters{failures: 4},
		APISink:    stubCounters{failures: 5},
		Watchdog:   c,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st := r.Report()
	if st.Reads != 120 || st.ReadFailures != 3 || st.Built != 7 {
		t.Errorf("unexpected acquisition counters: %+v", st)
	}
	if st.StoreFailures != 4 || st.APIFailures != 5 {
		t.Errorf("unexpected sink failures store=%d api=%d", st.StoreFailures, st.APIFailures)
	}
	if st.ProducerStrikes != 1 || st.APIStrikes != 2 {
		t.Errorf("unexpected strikes producer=%d api=%d", st.ProducerStrikes, st.APIStrikes)
	}
}

func TestRun_FinalReapOnStop(t *testing.T) {
	p := pending.New()
	r, err := New(Config{Interval: time.Hour, ReportInterval: time.Hour}, p, Sources{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k := insert(t, p, 1)
	p.MarkStoreDone(k)
	p.MarkAPIDone(k)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
	if p.Len() != 0 {
		t.Error("expected final reap on stop")
	}
}

func TestRun_ReapsPeriodically(t *testing.T) {
	p := pending.New()
	r, err := New(Config{Interval: time.Millisecond, ReportInterval: 5 * time.Millisecond}, p, Sources{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	k := insert(t, p, 1)
	p.MarkStoreDone(k)
	p.MarkAPIDone(k)

	deadline := time.After(2 * time.Second)
	for p.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("batch was not reaped")
		case <-time.After(time.Millisecond):
		}
	}
}
