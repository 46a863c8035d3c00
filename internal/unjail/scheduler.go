package unjail

import (
	"context"
	"sync"
	"time"

	"github.com/ygarg25/hyperliquid-exporter/internal/detector"
	"github.com/ygarg25/hyperliquid-exporter/internal/hlapi"
	"github.com/ygarg25/hyperliquid-exporter/internal/logger"
)

// StatusSource rechecks on-chain state after an attempt settles. It must
// bypass any cache so the recheck sees the post-action roster.
type StatusSource interface {
	FetchRosterFresh(ctx context.Context) (*hlapi.Roster, error)
}

// Sink receives the terminal events a remediation produces.
type Sink func(ev detector.Event)

// Scheduler owns one remediation task per jailed validator. Scheduling
// is idempotent and cancellation always wins over a pending attempt.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc

	det    *detector.Detector
	status StatusSource
	runner Runner
	sink   Sink

	initialWait   time.Duration
	retryInterval time.Duration
	settleWait    time.Duration
	maxAttempts   int

	// injected in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

func NewScheduler(det *detector.Detector, status StatusSource, runner Runner, sink Sink,
	initialWait, retryInterval, settleWait time.Duration, maxAttempts int) *Scheduler {
	return &Scheduler{
		tasks:         make(map[string]context.CancelFunc),
		det:           det,
		status:        status,
		runner:        runner,
		sink:          sink,
		initialWait:   initialWait,
		retryInterval: retryInterval,
		settleWait:    settleWait,
		maxAttempts:   maxAttempts,
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

// Schedule starts a remediation task for the validator unless one is
// already running. The first attempt fires at jailedAt plus the initial
// wait, pushed later if the network forbids unjailing before notBefore.
// It returns the fire time and whether a new task was created.
func (s *Scheduler) Schedule(ctx context.Context, address, name string, jailedAt, notBefore time.Time) (time.Time, bool) {
	fireAt := jailedAt.Add(s.initialWait)
	if notBefore.After(fireAt) {
		fireAt = notBefore
	}

	s.mu.Lock()
	if _, exists := s.tasks[address]; exists {
		s.mu.Unlock()
		return fireAt, false
	}
	taskCtx, cancel := context.WithCancel(ctx)
	s.tasks[address] = cancel
	s.mu.Unlock()

	logger.Info("UNJAIL", "Remediation for %s scheduled at %s", name, fireAt.Format(time.RFC3339))
	s.wg.Add(1)
	go s.run(taskCtx, address, name, fireAt)
	return fireAt, true
}

// Cancel stops the validator's task if one is running. Safe to call
// for addresses with no task.
func (s *Scheduler) Cancel(address string) {
	s.mu.Lock()
	cancel, ok := s.tasks[address]
	if ok {
		delete(s.tasks, address)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		logger.Info("UNJAIL", "Remediation for %s cancelled", address)
	}
}

// Wait blocks until all tasks have returned. Used on shutdown.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) run(ctx context.Context, address, name string, fireAt time.Time) {
	defer s.wg.Done()
	defer s.remove(address)

	if wait := fireAt.Sub(s.now()); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		// The detector gates every attempt: if the validator recovered
		// or the state was reset since scheduling, stand down.
		if !s.det.BeginAttempt(address, attempt, s.now()) {
			logger.Info("UNJAIL", "Attempt %d for %s skipped, validator no longer remediable", attempt, name)
			return
		}

		logger.Info("UNJAIL", "Attempt %d/%d for %s", attempt, s.maxAttempts, name)
		err := s.runner.Unjail(ctx)
		if err != nil {
			logger.Error("UNJAIL", "Attempt %d for %s failed: %v", attempt, name, err)
		} else if unjailed, cerr := s.confirm(ctx, address); cerr != nil {
			logger.Error("UNJAIL", "Attempt %d for %s: recheck failed: %v", attempt, name, cerr)
		} else if unjailed {
			if ctx.Err() != nil {
				// Cancelled while settling; the recovery path already
				// reported the state change.
				return
			}
			s.det.ResolveSuccess(address)
			s.sink(detector.Event{
				Type:      detector.EventRemediationSucceeded,
				Validator: address,
				Name:      name,
				Attempt:   attempt,
				Timestamp: s.now(),
			})
			return
		}

		if attempt < s.maxAttempts {
			if serr := s.sleep(ctx, s.retryInterval); serr != nil {
				return
			}
		}
	}

	s.det.MarkExhausted(address)
	s.sink(detector.Event{
		Type:        detector.EventRemediationFailed,
		Validator:   address,
		Name:        name,
		Attempt:     s.maxAttempts,
		MaxAttempts: s.maxAttempts,
		Timestamp:   s.now(),
	})
}

// confirm waits for the action to settle, then rechecks the roster.
// A validator missing from the roster counts as not yet unjailed.
func (s *Scheduler) confirm(ctx context.Context, address string) (bool, error) {
	if err := s.sleep(ctx, s.settleWait); err != nil {
		return false, err
	}
	roster, err := s.status.FetchRosterFresh(ctx)
	if err != nil {
		return false, err
	}
	v, ok := roster.Find(address)
	if !ok {
		return false, nil
	}
	return !v.IsJailed, nil
}

func (s *Scheduler) remove(address string) {
	s.mu.Lock()
	delete(s.tasks, address)
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
