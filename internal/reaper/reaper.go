// Package reaper removes fully delivered batches from the pending store and
// periodically reports pipeline health.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/gridrelay/internal/backpressure"
	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
)

// sketchAccuracy is the relative accuracy of latency quantiles.
const sketchAccuracy = 0.01

// Config holds reaper configuration.
type Config struct {
	Interval       time.Duration
	ReportInterval time.Duration
}

// Sources are the components observed in status reports. Any field may be
// nil.
type Sources struct {
	Raw      *buffer.RingBuffer
	Store    *dispatch.Queue
	API      *dispatch.Queue
	Pressure *backpressure.Controller

	Producer   Acquirer
	Aggregator Builder
	StoreSink  FailureCounter
	APISink    FailureCounter
	Watchdog   StrikeCounter
}

// Acquirer reports acquisition counts.
type Acquirer interface {
	Reads() int64
	Failures() int64
}

// Builder reports the number of batches built.
type Builder interface {
	Built() int64
}

// FailureCounter reports failed delivery attempts.
type FailureCounter interface {
	Failures() int64
}

// StrikeCounter reports consecutive stale checks.
type StrikeCounter interface {
	Strikes() (producer, api int)
}

// Reaper owns batch removal. It is the only component that deletes from the
// pending store.
type Reaper struct {
	cfg     Config
	pending *pending.Store
	src     Sources
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	removed int64
	latency *ddsketch.DDSketch
}

// New creates a reaper. m may be nil.
func New(cfg Config, p *pending.Store, src Sources, m *metrics.Metrics) (*Reaper, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return nil, err
	}
	return &Reaper{
		cfg:     cfg,
		pending: p,
		src:     src,
		metrics: m,
		log:     logging.Component("reaper"),
		latency: sketch,
	}, nil
}

// Run reaps every Interval and reports every ReportInterval until ctx is
// done.
func (r *Reaper) Run(ctx context.Context) error {
	reap := time.NewTicker(r.cfg.Interval)
	defer reap.Stop()
	report := time.NewTicker(r.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Reap()
			r.log.Info("reaper stopped", "removed", r.Removed(), "pending", r.pending.Len())
			return nil
		case <-reap.C:
			r.Reap()
		case <-report.C:
			r.Report()
		}
	}
}

// Reap removes completed batches and records their completion latency.
// Returns the number removed.
func (r *Reaper) Reap() int {
	reaped := r.pending.Reap()
	if len(reaped) == 0 {
		return 0
	}

	r.mu.Lock()
	for _, b := range reaped {
		r.latency.Add(b.Age.Seconds())
	}
	r.removed += int64(len(reaped))
	r.mu.Unlock()

	for _, b := range reaped {
		r.metrics.Reaped(b.Age)
	}
	return len(reaped)
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Removed  int64
	Backlog  pending.Backlog
	RawQ     int
	RawDrops int64
	StoreQ   int
	APIQ     int
	P50      time.Duration
	P99      time.Duration
	Pressure backpressure.Level

	Reads           int64
	ReadFailures    int64
	Built           int64
	StoreFailures   int64
	APIFailures     int64
	ProducerStrikes int
	APIStrikes      int
}

// Status collects the current status.
func (r *Reaper) Status() Status {
	st := Status{Backlog: r.pending.Backlog()}

	r.mu.Lock()
	st.Removed = r.removed
	if !r.latency.IsEmpty() {
		p50, _ := r.latency.GetValueAtQuantile(0.50)
		p99, _ := r.latency.GetValueAtQuantile(0.99)
		st.P50 = seconds(p50)
		st.P99 = seconds(p99)
	}
	r.mu.Unlock()

	if r.src.Raw != nil {
		rs := r.src.Raw.Stats()
		st.RawQ = rs.Count
		st.RawDrops = rs.DropCount
	}
	if r.src.Store != nil {
		st.StoreQ = r.src.Store.Len()
	}
	if r.src.API != nil {
		st.APIQ = r.src.API.Len()
	}
	if r.src.Pressure != nil {
		st.Pressure = r.src.Pressure.Check()
	}
	if r.src.Producer != nil {
		st.Reads = r.src.Producer.Reads()
		st.ReadFailures = r.src.Producer.Failures()
	}
	if r.src.Aggregator != nil {
		st.Built = r.src.Aggregator.Built()
	}
	if r.src.StoreSink != nil {
		st.StoreFailures = r.src.StoreSink.Failures()
	}
	if r.src.APISink != nil {
		st.APIFailures = r.src.APISink.Failures()
	}
	if r.src.Watchdog != nil {
		st.ProducerStrikes, st.APIStrikes = r.src.Watchdog.Strikes()
	}
	return st
}

// Report logs the status and updates gauges.
func (r *Reaper) Report() Status {
	st := r.Status()

	r.metrics.SetPending(st.Backlog.Total)
	r.metrics.SetQueueDepth("raw", st.RawQ)
	r.metrics.SetQueueDepth("store", st.StoreQ)
	r.metrics.SetQueueDepth("api", st.APIQ)
	r.metrics.SetPressure(int(st.Pressure))

	r.log.Info("status",
		"removed", st.Removed,
		"pending", st.Backlog.Total,
		"awaiting_store", st.Backlog.AwaitingStore,
		"awaiting_api", st.Backlog.AwaitingAPI,
		"oldest", st.Backlog.Oldest.Round(time.Millisecond),
		"raw_q", st.RawQ,
		"raw_drops", st.RawDrops,
		"store_q", st.StoreQ,
		"api_q", st.APIQ,
		"p50", st.P50.Round(time.Millisecond),
		"p99", st.P99.Round(time.Millisecond),
		"pressure", st.Pressure.String(),
		"reads", st.Reads,
		"read_failures", st.ReadFailures,
		"built", st.Built,
		"store_failures", st.StoreFailures,
		"api_failures", st.APIFailures,
		"producer_strikes", st.ProducerStrikes,
		"api_strikes", st.APIStrikes)
	return st
}

// Removed returns the cumulative number of reaped batches.
func (r *Reaper) Removed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
