// Package pollsched provides the background loop that periodically asks the
// dispatcher to drain hardware events. The loop only runs while contexts are
// registered and terminates itself when the dispatcher reports that none are
// left.
package pollsched

import (
	"context"
	"sync"
	"time"

	"github.com/lefinal/vr-arbiter/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultInterval is the default time between two polls.
const DefaultInterval = 500 * time.Millisecond

// Poller is the dispatcher side of a poll round trip.
type Poller interface {
	// PollEvents drains hardware events and reports whether polling should
	// continue. An error means that the dispatcher is gone.
	PollEvents(ctx context.Context) (bool, error)
}

// Scheduler runs the polling loop. It is either idle or active.
type Scheduler struct {
	logger   *zap.Logger
	poller   Poller
	interval time.Duration
	// active describes whether a loop goroutine is running.
	active bool
	// recheck is set when Start is called while active. The loop then polls
	// again instead of going idle on a negative reply.
	recheck bool
	// stateMutex locks active and recheck.
	stateMutex sync.Mutex
	// polls counts issued poll requests.
	polls *atomic.Uint64
	// loops tracks running loop goroutines.
	loops sync.WaitGroup
}

// New creates an idle Scheduler. If the interval is not positive,
// DefaultInterval is used.
func New(logger *zap.Logger, poller Poller, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		logger:   logger,
		poller:   poller,
		interval: interval,
		polls:    atomic.NewUint64(0),
	}
}

// Start transitions from idle to active and launches the loop. Poll requests
// are issued with the given context.Context. Calling Start while active is a
// no-op. Start never blocks, so the dispatcher may call it while serving a
// request.
func (s *Scheduler) Start(ctx context.Context) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.active {
		s.recheck = true
		return
	}
	s.active = true
	s.recheck = false
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.loop(ctx)
	}()
	s.logger.Debug("poll scheduler active")
}

// IsActive describes whether the loop is running.
func (s *Scheduler) IsActive() bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.active
}

// Polls returns the number of issued poll requests.
func (s *Scheduler) Polls() uint64 {
	return s.polls.Load()
}

// Wait until all loop goroutines have exited.
func (s *Scheduler) Wait() {
	s.loops.Wait()
}

// loop polls until the poller reports that polling should stop, fails or the
// given context.Context is done.
func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.stateMutex.Lock()
		s.recheck = false
		s.stateMutex.Unlock()
		s.polls.Inc()
		keepPolling, err := s.poller.PollEvents(ctx)
		if err != nil {
			// A gone dispatcher is the same as no contexts remaining.
			s.logger.Debug("poll failed", zap.String("err", errors.Prettify(err)))
			s.goIdle(true)
			return
		}
		if !keepPolling && s.goIdle(false) {
			return
		}
		select {
		case <-ctx.Done():
			s.goIdle(true)
			return
		case <-time.After(s.interval):
		}
	}
}

// goIdle transitions to idle. Unless forced, the transition is skipped if
// Start was called since the last poll request. It reports whether the
// transition happened.
func (s *Scheduler) goIdle(force bool) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if !force && s.recheck {
		return false
	}
	s.active = false
	s.recheck = false
	s.logger.Debug("poll scheduler idle")
	return true
}
