package room

import (
	"sync"
	"time"

	"github.com/gambitlive/backend/internal/v1/types"
)

// timerRegistry keys the per-user queue-timeout and disconnect-grace timers.
// The hot store records only that a timer is pending; the handle itself lives
// here. Scheduling replaces any pending timer of the same kind for the user.
type timerRegistry struct {
	mu    sync.Mutex
	queue map[types.UserID]*time.Timer
	grace map[types.UserID]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{
		queue: make(map[types.UserID]*time.Timer),
		grace: make(map[types.UserID]*time.Timer),
	}
}

func (t *timerRegistry) scheduleQueue(id types.UserID, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.queue[id]; ok {
		old.Stop()
	}
	t.queue[id] = time.AfterFunc(d, fn)
}

func (t *timerRegistry) cancelQueue(id types.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.queue[id]; ok {
		old.Stop()
		delete(t.queue, id)
	}
}

func (t *timerRegistry) scheduleGrace(id types.UserID, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.grace[id]; ok {
		old.Stop()
	}
	t.grace[id] = time.AfterFunc(d, fn)
}

func (t *timerRegistry) cancelGrace(id types.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.grace[id]; ok {
		old.Stop()
		delete(t.grace, id)
	}
}

func (t *timerRegistry) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.queue {
		timer.Stop()
		delete(t.queue, id)
	}
	for id, timer := range t.grace {
		timer.Stop()
		delete(t.grace, id)
	}
}
