// Package clock runs the shared 1Hz tick loop that drives every active
// game's chess clock. One goroutine owns the ticker; membership changes
// are cheap set mutations under a mutex, and each tick fans the current
// membership out to the game service.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/types"
)

// Ticker is the per-game callback the scheduler drives once per second.
type Ticker interface {
	Tick(ctx context.Context, id types.GameID)
}

// Scheduler holds the set of games receiving ticks.
type Scheduler struct {
	mu       sync.Mutex
	games    set.Set[types.GameID]
	interval time.Duration
}

// NewScheduler creates a scheduler ticking at the given interval. The
// production interval is one second.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		games:    set.New[types.GameID](),
		interval: interval,
	}
}

// Add registers a game for ticks. Idempotent.
func (s *Scheduler) Add(id types.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games.Insert(id)
}

// Remove deregisters a game. Idempotent.
func (s *Scheduler) Remove(id types.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games.Delete(id)
}

// Len reports how many games are currently scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.games.Len()
}

// Run drives the tick loop until ctx is cancelled. Each tick snapshots the
// membership so Tick callbacks can add or remove games without deadlocking.
func (s *Scheduler) Run(ctx context.Context, target Ticker) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info(ctx, "tick scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "tick scheduler stopped")
			return
		case <-ticker.C:
			s.mu.Lock()
			ids := s.games.UnsortedList()
			s.mu.Unlock()
			for _, id := range ids {
				target.Tick(ctx, id)
			}
		}
	}
}
