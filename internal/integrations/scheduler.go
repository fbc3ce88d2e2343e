package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/veilgate/internal/backoff"
	"github.com/nextlevelbuilder/veilgate/internal/metrics"
)

// ErrUnknownSource is returned when a scheduler operation names a source id
// that is not registered.
var ErrUnknownSource = errors.New("unknown source")

// Scheduler runs the periodic poll loops for poll-based sources and the
// on-demand sync. Each source polls in its own goroutine so one failing
// integration cannot stall the others.
type Scheduler struct {
	registry *Registry
	interval time.Duration
	retry    backoff.Policy

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler polling every interval on success and
// backing off per retry on failure.
func NewScheduler(reg *Registry, interval time.Duration, retry backoff.Policy) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if retry.Initial <= 0 {
		retry = backoff.Default()
	}
	return &Scheduler{
		registry: reg,
		interval: interval,
		retry:    retry,
		loops:    make(map[string]context.CancelFunc),
	}
}

// StartPolling launches the poll loop for a source. Starting an already
// polling source is a no-op.
func (s *Scheduler) StartPolling(ctx context.Context, sourceID string) error {
	src, ok := s.registry.Get(sourceID)
	if !ok {
		return fmt.Errorf("start polling %q: %w", sourceID, ErrUnknownSource)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.loops[sourceID]; running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loops[sourceID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(loopCtx, src)
	}()

	slog.Info("scheduler: polling started", "source", sourceID, "interval", s.interval)
	return nil
}

// StopPolling cancels the poll loop for a source. Stopping a source that is
// not polling is a no-op.
func (s *Scheduler) StopPolling(sourceID string) {
	s.mu.Lock()
	cancel, ok := s.loops[sourceID]
	if ok {
		delete(s.loops, sourceID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		slog.Info("scheduler: polling stopped", "source", sourceID)
	}
}

// IsPollingActive reports whether a poll loop is running for the source.
func (s *Scheduler) IsPollingActive(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[sourceID]
	return ok
}

// StopAll cancels every poll loop and waits for them to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, cancel := range s.loops {
		cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) pollLoop(ctx context.Context, src Source) {
	failures := 0
	for {
		if err := safeSync(ctx, src); err != nil {
			failures++
			metrics.PollFailures.WithLabelValues(src.SourceID()).Inc()
			slog.Warn("scheduler: poll failed",
				"source", src.SourceID(), "attempt", failures, "error", err)
		} else {
			failures = 0
			metrics.PollCycles.WithLabelValues(src.SourceID()).Inc()
		}

		wait := s.interval
		if failures > 0 {
			wait = s.retry.Delay(failures - 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// safeSync runs SyncOnce and converts a panic into an error so one broken
// integration cannot take the process down.
func safeSync(ctx context.Context, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panic: %v", r)
		}
	}()
	return src.SyncOnce(ctx)
}

// SyncNow triggers an immediate sync across all connected sources in
// parallel. It succeeds when at least one source syncs cleanly; with no
// connected sources there is nothing to do and it returns nil.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	sources := s.registry.Connected()
	if len(sources) == 0 {
		return nil
	}

	var succeeded atomic.Int64
	var g errgroup.Group
	errs := make([]error, len(sources))
	for i, src := range sources {
		g.Go(func() error {
			if err := safeSync(ctx, src); err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.SourceID(), err)
				metrics.PollFailures.WithLabelValues(src.SourceID()).Inc()
				return nil
			}
			succeeded.Add(1)
			metrics.PollCycles.WithLabelValues(src.SourceID()).Inc()
			return nil
		})
	}
	_ = g.Wait()

	if succeeded.Load() == 0 {
		return fmt.Errorf("sync now: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		if err != nil {
			slog.Warn("scheduler: partial sync failure", "error", err)
		}
	}
	return nil
}

// RunCron triggers SyncNow whenever the cron expression is due, checked once
// a minute. Blocks until ctx is done.
func (s *Scheduler) RunCron(ctx context.Context, expr string) error {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			due, err := gron.IsDue(expr, time.Now())
			if err != nil {
				slog.Warn("scheduler: cron check failed", "expr", expr, "error", err)
				continue
			}
			if !due {
				continue
			}
			if err := s.SyncNow(ctx); err != nil {
				slog.Warn("scheduler: scheduled sync failed", "error", err)
			}
		}
	}
}
