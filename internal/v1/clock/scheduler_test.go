package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gambitlive/backend/internal/v1/types"
)

type recordingTicker struct {
	mu    sync.Mutex
	ticks map[types.GameID]int
}

func newRecordingTicker() *recordingTicker {
	return &recordingTicker{ticks: make(map[types.GameID]int)}
}

func (r *recordingTicker) Tick(_ context.Context, id types.GameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[id]++
}

func (r *recordingTicker) count(id types.GameID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks[id]
}

func TestAddRemoveIdempotent(t *testing.T) {
	s := NewScheduler(time.Second)

	s.Add("g1")
	s.Add("g1")
	s.Add("g2")
	assert.Equal(t, 2, s.Len())

	s.Remove("g1")
	s.Remove("g1")
	s.Remove("never-added")
	assert.Equal(t, 1, s.Len())
}

func TestRunTicksMembers(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(5 * time.Millisecond)
	target := newRecordingTicker()
	s.Add("g1")
	s.Add("g2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, target)
	}()

	require.Eventually(t, func() bool {
		return target.count("g1") >= 3 && target.count("g2") >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestRemovedGameStopsTicking(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(5 * time.Millisecond)
	target := newRecordingTicker()
	s.Add("g1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, target)
	}()

	require.Eventually(t, func() bool {
		return target.count("g1") >= 1
	}, time.Second, 5*time.Millisecond)

	s.Remove("g1")
	settled := target.count("g1")
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, target.count("g1"), settled+1, "at most one in-flight tick after removal")

	cancel()
	<-done
}

func TestZeroIntervalDefaultsToOneSecond(t *testing.T) {
	s := NewScheduler(0)
	assert.Equal(t, time.Second, s.interval)
}
