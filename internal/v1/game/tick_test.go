package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

func TestTickDecrementsSideToMove(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.seedGame(t, "g1")

	e.svc.Tick(ctx, "g1")

	game := e.hotGame(t, "g1")
	assert.Equal(t, 599, game.Clocks.White)
	assert.Equal(t, 600, game.Clocks.Black, "only the side to move burns time")

	events := e.bc.gameEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventTimerUpdate, events[len(events)-1])
}

func TestTickDecrementsBlackAfterWhiteMoves(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	game := e.seedGame(t, "g1")

	res, err := e.oracle.ApplyMove(game.Position, nil, rules.MoveInput{From: "e2", To: "e4"})
	require.NoError(t, err)
	game.Position = res.Position
	require.NoError(t, e.hot.SetJSON(ctx, store.GameKey("g1"), game, 0))

	e.svc.Tick(ctx, "g1")

	got := e.hotGame(t, "g1")
	assert.Equal(t, 600, got.Clocks.White)
	assert.Equal(t, 599, got.Clocks.Black)
}

func TestTickTimeout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	game := e.seedGame(t, "g1")
	game.Clocks = types.Clocks{White: 1, Black: 300}
	require.NoError(t, e.hot.SetJSON(ctx, store.GameKey("g1"), game, 0))

	e.svc.Tick(ctx, "g1")

	got := e.hotGame(t, "g1")
	assert.Equal(t, types.GameCompleted, got.Status)
	assert.Equal(t, blackID, got.WinnerUserID)
	assert.Equal(t, 0, got.Clocks.White)
	assert.False(t, e.sched.has("g1"))

	// The zeroed clock is published before the timeout verdict.
	assert.Equal(t, []string{types.EventTimerUpdate, types.EventTimeOut}, e.bc.gameEvents())
}

func TestTickRemovesMissingAndTerminalGames(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	e.sched.Add("gone")
	e.svc.Tick(ctx, "gone")
	assert.False(t, e.sched.has("gone"))

	game := e.seedGame(t, "g1")
	game.Status = types.GameResigned
	require.NoError(t, e.hot.SetJSON(ctx, store.GameKey("g1"), game, 0))
	e.sched.Add("g1")

	e.svc.Tick(ctx, "g1")
	assert.False(t, e.sched.has("g1"))

	got := e.hotGame(t, "g1")
	assert.Equal(t, 600, got.Clocks.White, "terminal games never tick")
}
