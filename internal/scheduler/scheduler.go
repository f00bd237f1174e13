// Package scheduler drives the performer: on every tick it finds due
// predictions and runs each through the execution pipeline.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/oracle-avs/internal/lease"
	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Executor runs the execution pipeline for a single prediction.
type Executor interface {
	Execute(ctx context.Context, p model.Prediction) (model.Prediction, error)
}

// Registry is the read side of the prediction registry.
type Registry interface {
	List(ctx context.Context) ([]model.Prediction, error)
	Get(ctx context.Context, id string) (model.Prediction, error)
}

// Scheduler ticks on a fixed period and executes due predictions.
type Scheduler struct {
	registry    Registry
	executor    Executor
	claims      lease.Claimer
	interval    time.Duration
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time

	running atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency bounds how many predictions run at once (default 1).
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithExecutionTimeout bounds each prediction's execution.
func WithExecutionTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to decide what is due.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a new Scheduler.
func New(registry Registry, executor Executor, claims lease.Claimer, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:    registry,
		executor:    executor,
		claims:      claims,
		interval:    interval,
		concurrency: 1,
		timeout:     5 * time.Minute,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start ticks immediately and then every interval. It blocks until ctx is
// cancelled and the running tick, if any, has returned. A tick that fires
// while the previous one is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String(), "concurrency", s.concurrency)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	s.fire(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.fire(ctx, &wg)
		}
	}
}

// fire starts a tick in the background unless one is in progress.
func (s *Scheduler) fire(ctx context.Context, wg *sync.WaitGroup) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicks.WithLabelValues("skipped").Inc()
		s.logger.Warn("previous tick still running, skipping")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.running.Store(false)
		s.runTick(ctx)
	}()
}

// Tick runs one scheduling pass synchronously. It returns false without
// doing anything when another pass is in progress.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicks.WithLabelValues("skipped").Inc()
		return false
	}
	defer s.running.Store(false)
	s.runTick(ctx)
	return true
}

func (s *Scheduler) runTick(ctx context.Context) {
	preds, err := s.registry.List(ctx)
	if err != nil {
		metrics.SchedulerTicks.WithLabelValues("error").Inc()
		s.logger.Error("scheduler list error", "error", err)
		return
	}

	now := s.now()
	var due []model.Prediction
	for _, p := range preds {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	metrics.PredictionsDue.Set(float64(len(due)))
	metrics.SchedulerTicks.WithLabelValues("run").Inc()
	if len(due) == 0 {
		s.logger.Debug("no due predictions")
		return
	}
	s.logger.Info("processing due predictions", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range due {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.runOne(gctx, p)
			return nil
		})
	}
	g.Wait()
}

// runOne executes p under its in-flight marker. Failures are logged; the
// pipeline has already recorded them on the prediction.
func (s *Scheduler) runOne(ctx context.Context, p model.Prediction) {
	log := s.logger.With("prediction_id", p.ID)

	ok, err := s.claims.Claim(ctx, p.ID)
	if err != nil {
		log.Error("claim error", "error", err)
		return
	}
	if !ok {
		log.Info("prediction in flight elsewhere, skipping")
		return
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.claims.Release(rctx, p.ID); err != nil {
			log.Warn("release claim failed", "error", err)
		}
	}()

	// The listing may predate another runner's write.
	fresh, err := s.registry.Get(ctx, p.ID)
	if err != nil {
		log.Error("reload prediction", "error", err)
		return
	}
	if !fresh.IsDue(s.now()) {
		log.Info("prediction no longer due, skipping", "status", fresh.Status)
		return
	}

	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log.Info("executing prediction", "condition", fresh.Condition)
	if _, err := s.executor.Execute(ectx, fresh); err != nil {
		log.Error("prediction failed", "error", err)
	}
}
