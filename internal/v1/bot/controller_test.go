package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/types"
)

type fakeMover struct {
	mu    sync.Mutex
	moves []rules.MoveInput
	ids   []types.GameID
}

func (m *fakeMover) MakeMove(_ context.Context, id types.GameID, playerID types.UserID, mv rules.MoveInput) error {
	if playerID != types.BotUserID {
		return types.UnauthorizedError("unexpected mover %s", playerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	m.moves = append(m.moves, mv)
	return nil
}

func (m *fakeMover) moveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves)
}

type scriptedEngine struct {
	mu       sync.Mutex
	mv       rules.MoveInput
	noMove   bool
	disposed bool
}

func (e *scriptedEngine) FindBestMove(string, time.Duration) (rules.MoveInput, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.noMove {
		return rules.MoveInput{}, false
	}
	return e.mv, true
}

func (e *scriptedEngine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

func (e *scriptedEngine) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

func newBotController(t *testing.T) (*Controller, *fakeMover, *scriptedEngine) {
	t.Helper()
	mover := &fakeMover{}
	engine := &scriptedEngine{mv: rules.MoveInput{From: "e7", To: "e5"}}
	c := New(mover, rules.NewOracle(), func(int) Engine { return engine })
	c.SetThinkBounds(time.Millisecond, 2*time.Millisecond)
	t.Cleanup(c.Shutdown)
	return c, mover, engine
}

func botGame(id types.GameID, position string, status types.GameStatus) *types.Game {
	return &types.Game{
		ID:       id,
		Position: position,
		Status:   status,
		Players: [2]types.GamePlayer{
			{UserID: "human", Color: types.ColorWhite},
			{UserID: types.BotUserID, Color: types.ColorBlack},
		},
	}
}

// Position after 1.e4: black (the bot) to move.
const blackToMoveFEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPPPPPP/RNBQKBNR b KQkq - 0 1"

func TestObserveSubmitsBotMove(t *testing.T) {
	c, mover, _ := newBotController(t)

	c.Observe(botGame("g1", blackToMoveFEN, types.GameActive))

	require.Eventually(t, func() bool {
		return mover.moveCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, rules.MoveInput{From: "e7", To: "e5"}, mover.moves[0])
	assert.Equal(t, 1, c.ActiveGames())
}

func TestObserveIgnoresHumanTurn(t *testing.T) {
	c, mover, _ := newBotController(t)
	oracle := rules.NewOracle()

	// White (the human) to move.
	c.Observe(botGame("g1", oracle.StartingPosition(), types.GameActive))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, mover.moveCount())
	assert.Equal(t, 0, c.ActiveGames())
}

func TestObserveIgnoresGamesWithoutBot(t *testing.T) {
	c, mover, _ := newBotController(t)

	game := &types.Game{
		ID:       "g1",
		Position: blackToMoveFEN,
		Status:   types.GameActive,
		Players: [2]types.GamePlayer{
			{UserID: "alice", Color: types.ColorWhite},
			{UserID: "bob", Color: types.ColorBlack},
		},
	}
	c.Observe(game)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, mover.moveCount())
}

func TestObserveDedupesWhileThinking(t *testing.T) {
	c, mover, _ := newBotController(t)
	c.SetThinkBounds(50*time.Millisecond, 51*time.Millisecond)

	game := botGame("g1", blackToMoveFEN, types.GameActive)
	c.Observe(game)
	c.Observe(game)
	c.Observe(game)

	require.Eventually(t, func() bool {
		return mover.moveCount() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, mover.moveCount(), "one move per thinking cycle")
}

func TestTerminalUpdateDisposesEngine(t *testing.T) {
	c, _, engine := newBotController(t)

	c.Observe(botGame("g1", blackToMoveFEN, types.GameActive))
	require.Equal(t, 1, c.ActiveGames())

	c.Observe(botGame("g1", blackToMoveFEN, types.GameResigned))
	assert.Equal(t, 0, c.ActiveGames())
	assert.True(t, engine.isDisposed())
}

func TestEmptyEngineMoveDisposesEngine(t *testing.T) {
	c, mover, engine := newBotController(t)
	engine.noMove = true

	c.Observe(botGame("g1", blackToMoveFEN, types.GameActive))

	require.Eventually(t, engine.isDisposed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.ActiveGames())
	assert.Equal(t, 0, mover.moveCount())
}

func TestConcurrentGameCap(t *testing.T) {
	mover := &fakeMover{}
	c := New(mover, rules.NewOracle(), func(int) Engine {
		return &scriptedEngine{mv: rules.MoveInput{From: "e7", To: "e5"}}
	})
	c.SetThinkBounds(time.Millisecond, 2*time.Millisecond)
	t.Cleanup(c.Shutdown)

	for i := range maxConcurrentGames + 2 {
		id := types.GameID(fmt.Sprintf("g%d", i))
		c.Observe(botGame(id, blackToMoveFEN, types.GameActive))
	}

	assert.Equal(t, maxConcurrentGames, c.ActiveGames())
}

func TestShutdownDisposesEverything(t *testing.T) {
	c, _, engine := newBotController(t)

	c.Observe(botGame("g1", blackToMoveFEN, types.GameActive))
	require.Equal(t, 1, c.ActiveGames())

	c.Shutdown()
	assert.Equal(t, 0, c.ActiveGames())
	assert.True(t, engine.isDisposed())
}
