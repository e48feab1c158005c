package game

import (
	"sync"

	"github.com/gambitlive/backend/internal/v1/types"
)

// gameLocks serializes all mutations of a single game: moves, clock ticks,
// draw events, timeouts and abandonment take the game's lock, so state
// changes apply in a total order per game. Entries are dropped on terminal
// transitions; a straggler holding the old mutex re-checks game status after
// acquiring and no-ops.
type gameLocks struct {
	mu    sync.Mutex
	locks map[types.GameID]*sync.Mutex
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[types.GameID]*sync.Mutex)}
}

func (l *gameLocks) lockFor(id types.GameID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

func (l *gameLocks) forget(id types.GameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}
