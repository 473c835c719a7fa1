// Package pipeline wires the acquisition, aggregation and delivery stages
// into one service and supervises them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/gridrelay/internal/backpressure"
	"github.com/xtxerr/gridrelay/internal/buffer"
	"github.com/xtxerr/gridrelay/internal/config"
	"github.com/xtxerr/gridrelay/internal/dispatch"
	"github.com/xtxerr/gridrelay/internal/errors"
	"github.com/xtxerr/gridrelay/internal/grid"
	"github.com/xtxerr/gridrelay/internal/logging"
	"github.com/xtxerr/gridrelay/internal/metrics"
	"github.com/xtxerr/gridrelay/internal/pending"
	"github.com/xtxerr/gridrelay/internal/producer"
	"github.com/xtxerr/gridrelay/internal/reader"
	"github.com/xtxerr/gridrelay/internal/reaper"
	"github.com/xtxerr/gridrelay/internal/sink/api"
	"github.com/xtxerr/gridrelay/internal/sink/store"
	"github.com/xtxerr/gridrelay/internal/watchdog"
)

// Option overrides a component built from the configuration.
type Option func(*options)

type options struct {
	reader     reader.Reader
	writer     store.Writer
	poster     api.Poster
	posterSet  bool
	registry   *prometheus.Registry
	noListener bool
}

// WithReader uses r instead of opening reader.kind.
func WithReader(r reader.Reader) Option {
	return func(o *options) { o.reader = r }
}

// WithWriter uses w instead of opening store.kind.
func WithWriter(w store.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithPoster uses p instead of an HTTP client. A nil p disables delivery.
func WithPoster(p api.Poster) Option {
	return func(o *options) {
		o.poster = p
		o.posterSet = true
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithoutMetricsServer skips the /metrics listener even when enabled.
func WithoutMetricsServer() Option {
	return func(o *options) { o.noListener = true }
}

// Service owns every pipeline component.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	liveness *watchdog.Liveness

	reader  reader.Reader
	writer  store.Writer
	raw     *buffer.RingBuffer
	pending *pending.Store
	storeQ  *dispatch.Queue
	apiQ    *dispatch.Queue

	pressure   *backpressure.Controller
	producer   *producer.Producer
	aggregator *grid.Aggregator
	storeSink  *store.Worker
	apiSink    *api.Pool
	reaper     *reaper.Reaper
	watchdog   *watchdog.Watchdog
	server     *metrics.Server

	fatal     chan error
	fatalOnce sync.Once
}

// New builds the service from cfg. It opens the reader and the storage
// backend; a failure here is a startup error, not a restart request.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		cfg:      cfg,
		log:      logging.Component("pipeline"),
		registry: o.registry,
		liveness: watchdog.NewLiveness(),
		fatal:    make(chan error, 1),
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = metrics.New(s.registry)

	s.reader = o.reader
	if s.reader == nil {
		r, err := reader.Open(ctx, cfg.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "open reader")
		}
		s.reader = r
	}

	s.writer = o.writer
	if s.writer == nil {
		w, err := store.Open(ctx, cfg.Store)
		if err != nil {
			s.reader.Close()
			return nil, errors.Wrap(err, "open store")
		}
		s.writer = w
	}

	var poster api.Poster
	switch {
	case o.posterSet:
		poster = o.poster
	case cfg.API.Enabled:
		poster = api.NewClient(cfg.API)
	}

	s.raw = buffer.New(cfg.Queues.Raw)
	s.pending = pending.New()
	s.storeQ = dispatch.New("store", cfg.Queues.Store)
	s.apiQ = dispatch.New("api", cfg.Queues.API)
	s.pressure = backpressure.New(cfg.Queues.Pressure, s.raw)

	s.producer = producer.New(producer.Config{
		RetryDelay:       cfg.Reader.RetryDelay,
		ErrorLogInterval: cfg.Reader.ErrorLogInterval,
		MaxRate:          cfg.Reader.MaxRate,
		Burst:            cfg.Reader.Burst,
	}, s.reader, s.raw, s.liveness, s.metrics)

	s.aggregator = grid.NewAggregator(grid.Config{
		Interval: cfg.Grid.Interval,
		Poll:     cfg.Grid.Poll,
	}, s.raw, s.pending, s.storeQ, s.apiQ, s.metrics)

	s.storeSink = store.NewWorker(s.writer, s.pending, s.storeQ, cfg.Store.RetryDelay, s.metrics)

	s.apiSink = api.NewPool(api.Config{
		Workers:     cfg.API.Workers,
		MaxAttempts: cfg.API.MaxAttempts,
		BaseDelay:   cfg.API.BaseDelay,
		MaxDelay:    cfg.API.MaxDelay,
	}, poster, s.pending, s.apiQ, s.liveness, api.NewLastGoodFile(cfg.API.LastGoodPath), s.metrics)

	s.watchdog = watchdog.New(watchdog.Config{
		Interval:       cfg.Watchdog.Interval,
		StallThreshold: cfg.Watchdog.StallThreshold,
		MaxStrikes:     cfg.Watchdog.MaxStrikes,
		CheckAPI:       poster != nil,
	}, s.liveness, s.metrics)

	rp, err := reaper.New(reaper.Config{
		Interval:       cfg.Reaper.Interval,
		ReportInterval: cfg.Reaper.ReportInterval,
	}, s.pending, reaper.Sources{
		Raw:        s.raw,
		Store:      s.storeQ,
		API:        s.apiQ,
		Pressure:   s.pressure,
		Producer:   s.producer,
		Aggregator: s.aggregator,
		StoreSink:  s.storeSink,
		APISink:    s.apiSink,
		Watchdog:   s.watchdog,
	}, s.metrics)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "create reaper")
	}
	s.reaper = rp

	if cfg.Metrics.Enabled && !o.noListener {
		s.server = metrics.NewServer(cfg.Metrics.Addr, s.registry, s.Health)
	}

	s.pressure.SetOnLevelChange(func(old, new backpressure.Level) {
		s.metrics.SetPressure(int(new))
	})

	return s, nil
}

// Run starts every component and blocks until ctx is done or a component
// requests a restart. A restart request is returned as *errors.FatalError
// at once, without waiting for the other components to stop.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.liveness.Reset()
	s.log.Info("pipeline starting",
		"reader", s.cfg.Reader.Kind,
		"store", s.writer.Name(),
		"api_enabled", s.cfg.API.Enabled,
		"grid_interval", s.cfg.Grid.Interval)

	g, gctx := errgroup.WithContext(ctx)
	s.spawn(g, gctx, "producer", s.producer.Run)
	s.spawn(g, gctx, "aggregator", s.aggregator.Run)
	s.spawn(g, gctx, "store", s.storeSink.Run)
	s.spawn(g, gctx, "api", s.apiSink.Run)
	s.spawn(g, gctx, "reaper", s.reaper.Run)
	s.spawn(g, gctx, "watchdog", s.watchdog.Run)
	if s.server != nil {
		s.spawn(g, gctx, "metrics", s.server.Run)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-s.fatal:
		return err
	case err := <-done:
		select {
		case ferr := <-s.fatal:
			return ferr
		default:
		}
		s.log.Info("pipeline stopped")
		return err
	}
}

// spawn runs fn in g. Any error a component returns is a restart request.
func (s *Service) spawn(g *errgroup.Group, ctx context.Context, name string, fn func(context.Context) error) {
	g.Go(func() error {
		err := fn(ctx)
		if err == nil || (ctx.Err() != nil && !errors.IsFatal(err)) {
			return nil
		}
		var fe *errors.FatalError
		if !errors.As(err, &fe) {
			fe = errors.NewFatal(name, err)
			s.metrics.RestartRequested(name)
		}
		s.Fatal(fe)
		return fe
	})
}

// Fatal requests a process restart. Only the first request is kept.
func (s *Service) Fatal(err error) {
	s.fatalOnce.Do(func() {
		s.log.Error("restart requested", "error", err)
		s.fatal <- err
	})
}

// Health reports an error while acquisition is stale.
func (s *Service) Health() error {
	age := time.Since(s.liveness.LastRead())
	if age > s.cfg.Watchdog.StallThreshold {
		return fmt.Errorf("%w: last read %s ago", errors.ErrStall, age.Round(time.Millisecond))
	}
	return nil
}

// Status returns the current pipeline status.
func (s *Service) Status() reaper.Status {
	return s.reaper.Status()
}

// Registry returns the metrics registry.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// Close releases the reader and the storage backend.
func (s *Service) Close() error {
	var errs []error
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
