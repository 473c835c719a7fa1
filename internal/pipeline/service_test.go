package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/sink/api"
	"github.com/xtxerr/gridrelay/internal/testutil"
	"github.com/xtxerr/gridrelay/internal/types"
)

type tickReader struct {
	fail   bool
	closed atomic.Bool
	n      atomic.Int64
}

func (r *tickReader) Acquire(ctx context.Context) (types.Snapshot, error) {
	select {
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	case <-time.After(2 * time.Millisecond):
	}
	if r.fail {
		return types.Snapshot{}, fmt.Errorf("%w: controller offline", errors.ErrAcquireFailed)
	}
	n := r.n.Add(1)
	return types.Snapshot{
		Timestamp: time.Now(),
		Tags:      types.Tags{"count": types.Number(float64(n))},
	}, nil
}

func (r *tickReader) Close() error {
	r.closed.Store(true)
	return nil
}

type memWriter struct {
	mu   sync.Mutex
	keys []types.BatchKey
}

func (w *memWriter) Name() string { return "memory" }

func (w *memWriter) WriteBatch(_ context.Context, b *types.SecondBatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = append(w.keys, b.Key)
	return nil
}

func (w *memWriter) Close() error { return nil }

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

type countPoster struct {
	fail  bool
	posts atomic.Int64
}

func (p *countPoster) Post(_ context.Context, rows []types.GridRow) (api.Response, error) {
	p.posts.Add(1)
	if p.fail {
		return api.Response{}, fmt.Errorf("%w: 503", errors.ErrBadStatus)
	}
	return api.Response{Status: http.StatusOK, Body: []byte(`{"ok":true}`)}, nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Reaper.Interval = 10 * time.Millisecond
	cfg.Reaper.ReportInterval = 200 * time.Millisecond
	cfg.Watchdog.Interval = 50 * time.Millisecond
	cfg.Watchdog.StallThreshold = 2 * time.Second
	cfg.API.BaseDelay = time.Millisecond
	cfg.API.MaxDelay = 4 * time.Millisecond
	cfg.API.LastGoodPath = filepath.Join(t.TempDir(), "last_good.json")
	return cfg
}

func TestService_DeliversAndReaps(t *testing.T) {
	w := &memWriter{}
	p := &countPoster{}
	reg := prometheus.NewRegistry()
	svc, err := New(context.Background(), testConfig(t),
		WithReader(&tickReader{}), WithWriter(w), WithPoster(p), WithRegistry(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	g := testutil.NewGroup(t, 10*time.Second)
	g.Go(svc.Run)

	err = testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return svc.reaper.Removed() >= 2
	})
	if err != nil {
		t.Fatalf("batches were not reaped: %v (written=%d posts=%d)", err, w.count(), p.posts.Load())
	}
	g.Wait()

	if w.count() < 2 || p.posts.Load() < 2 {
		t.Errorf("expected both sinks to see batches, written=%d posts=%d", w.count(), p.posts.Load())
	}
	if st := svc.Status(); st.Reads == 0 || st.Built < 2 {
		t.Errorf("status should carry component counters, got reads=%d built=%d", st.Reads, st.Built)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "gridrelay_batches_reaped_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() >= 2
		}
	}
	if !found {
		t.Error("expected reaped batches on the injected registry")
	}

	lg, err := api.NewLastGoodFile(svc.cfg.API.LastGoodPath).Load()
	if err != nil {
		t.Fatalf("last good artifact: %v", err)
	}
	if len(lg.Rows) != svc.cfg.Grid.Rows() {
		t.Errorf("expected %d rows in artifact, got %d", svc.cfg.Grid.Rows(), len(lg.Rows))
	}
}

func TestService_DeliveryExhaustionRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.MaxAttempts = 2
	cfg.Watchdog.StallThreshold = time.Minute

	svc, err := New(context.Background(), cfg,
		WithReader(&tickReader{}), WithWriter(&memWriter{}), WithPoster(&countPoster{fail: true}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	var runErr error
	err = testutil.WithTimeout(5*time.Second, func() error {
		runErr = svc.Run(context.Background())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var fe *errors.FatalError
	if !errors.As(runErr, &fe) || fe.Component != "api" {
		t.Fatalf("expected api FatalError, got %v", runErr)
	}
	if !errors.Is(runErr, errors.ErrDeliveryExhausted) || fe.ExitCode() != errors.ExitRestart {
		t.Errorf("unexpected restart request %v (exit %d)", runErr, fe.ExitCode())
	}
	if svc.Status().Backlog.AwaitingAPI == 0 {
		t.Error("undelivered batch must stay pending")
	}
}

func TestService_ProducerStallRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watchdog.Interval = 10 * time.Millisecond
	cfg.Watchdog.StallThreshold = 20 * time.Millisecond
	cfg.Watchdog.MaxStrikes = 2

	svc, err := New(context.Background(), cfg,
		WithReader(&tickReader{fail: true}), WithWriter(&memWriter{}), WithPoster(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	var runErr error
	err = testutil.WithTimeout(2*time.Second, func() error {
		runErr = svc.Run(context.Background())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var fe *errors.FatalError
	if !errors.As(runErr, &fe) || fe.Component != "watchdog" || !errors.Is(runErr, errors.ErrStall) {
		t.Errorf("expected watchdog stall, got %v", runErr)
	}
}

func TestService_CleanStop(t *testing.T) {
	svc, err := New(context.Background(), testConfig(t),
		WithReader(&tickReader{}), WithWriter(&memWriter{}), WithPoster(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}
}

func TestService_Health(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true

	svc, err := New(context.Background(), cfg, WithReader(&tickReader{}), WithWriter(&memWriter{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if svc.server == nil {
		t.Fatal("metrics server should be built when enabled")
	}

	rec := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("fresh service should be healthy, got %d", rec.Code)
	}

	svc.cfg.Watchdog.StallThreshold = time.Nanosecond
	time.Sleep(time.Millisecond)
	if err := svc.Health(); !errors.Is(err, errors.ErrStall) {
		t.Errorf("expected stall, got %v", err)
	}
}

func TestNew_BadStoreClosesReader(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Kind = "tape"

	r := &tickReader{}
	if _, err := New(context.Background(), cfg, WithReader(r)); err == nil {
		t.Fatal("expected error for unknown store kind")
	}
	if !r.closed.Load() {
		t.Error("reader should be closed when startup fails")
	}
}

func TestNew_WithoutMetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true

	svc, err := New(context.Background(), cfg,
		WithReader(&tickReader{}), WithWriter(&memWriter{}), WithoutMetricsServer())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if svc.server != nil {
		t.Error("metrics server should be skipped")
	}
}
