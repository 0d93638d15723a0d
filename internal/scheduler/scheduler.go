// Package scheduler drains the request queue through the transport, on a
// fixed-delay timer and on demand, with at most one delivery in flight.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/apptrack/internal/exporter"
	"github.com/szibis/apptrack/internal/logging"
	"github.com/szibis/apptrack/internal/queue"
	"golang.org/x/sync/semaphore"
)

var (
	flushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_scheduler_flushes_total",
		Help: "Flush attempts by result (success, partial, failure)",
	}, []string{"result"})

	skippedTriggersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_scheduler_skipped_triggers_total",
		Help: "Flush triggers ignored because a delivery was already in flight",
	})

	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "apptrack_scheduler_flush_duration_seconds",
		Help:    "Time spent in one flush attempt",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(flushesTotal)
	prometheus.MustRegister(skippedTriggersTotal)
	prometheus.MustRegister(flushDuration)
}

// ErrInvalidInterval is returned for a non-positive flush interval.
var ErrInvalidInterval = errors.New("flush interval must be positive")

// Queue is the part of the request queue the scheduler drains.
type Queue interface {
	Len() int
	Batch() queue.Batch
	Ack(b queue.Batch, delivered int) int
}

// Config holds scheduler settings.
type Config struct {
	// Interval is both the delay before the first timer flush and the delay
	// between timer flushes.
	Interval time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfterFlush registers fn to run after every flush attempt, before the
// delivery slot is released.
func WithAfterFlush(fn func(delivered int, err error)) Option {
	return func(s *Scheduler) { s.afterFlush = fn }
}

// Scheduler owns the flush timer and the single delivery slot.
type Scheduler struct {
	interval   time.Duration
	queue      Queue
	sender     exporter.Sender
	afterFlush func(int, error)

	slot    *semaphore.Weighted
	stopped atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	loopDone  chan struct{}
}

// New creates a scheduler. It does nothing until Start or Trigger is called.
func New(cfg Config, q Queue, sender exporter.Sender, opts ...Option) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	s := &Scheduler{
		interval: cfg.Interval,
		queue:    q,
		sender:   sender,
		slot:     semaphore.NewWeighted(1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the timer goroutine. Later calls are no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Trigger()
		}
	}
}

// Trigger submits a flush if the queue is non-empty and no flush is in
// flight. It never blocks and reports whether a flush was submitted.
func (s *Scheduler) Trigger() bool {
	if s.stopped.Load() || s.queue.Len() == 0 {
		return false
	}
	if !s.slot.TryAcquire(1) {
		skippedTriggersTotal.Inc()
		logging.Debug("flush already in flight, trigger skipped")
		return false
	}
	go func() {
		defer s.slot.Release(1)
		s.flush()
	}()
	return true
}

// flush delivers one queue snapshot. Entries the sender did not confirm stay
// queued for the next cycle.
func (s *Scheduler) flush() {
	start := time.Now()
	b := s.queue.Batch()
	batch := b.Entries

	var (
		delivered int
		err       error
	)
	if len(batch) > 0 {
		// No deadline here; the transport bounds its own requests.
		delivered, err = s.sender.Send(context.Background(), batch)
		if delivered > len(batch) {
			delivered = len(batch)
		}
		s.queue.Ack(b, delivered)
	}
	flushDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		flushesTotal.WithLabelValues("success").Inc()
	case delivered > 0:
		flushesTotal.WithLabelValues("partial").Inc()
	default:
		flushesTotal.WithLabelValues("failure").Inc()
	}
	if err != nil {
		logging.Warn("flush incomplete, undelivered records stay queued", logging.F(
			"batch_size", len(batch),
			"delivered", delivered,
			"retryable", exporter.IsRetryable(err),
			"error", err.Error(),
		))
	} else if len(batch) > 0 {
		logging.Debug("flush complete", logging.F("delivered", delivered))
	}

	if s.afterFlush != nil {
		s.afterFlush(delivered, err)
	}
}

// Wait blocks until the in-flight flush, if any, has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	s.slot.Release(1)
	return nil
}

// Stop halts the timer, rejects further triggers and waits for the
// in-flight flush until ctx is done. A flush still running when ctx expires
// is abandoned, not cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
	// Start may never have been called.
	s.startOnce.Do(func() { close(s.loopDone) })
	<-s.loopDone
	return s.Wait(ctx)
}
