package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/types"
)

const (
	// maxConcurrentGames caps simultaneous engine instances.
	maxConcurrentGames = 5
	// minDifficulty and maxDifficulty bound the per-game difficulty roll.
	minDifficulty = 2
	maxDifficulty = 4
	// minThink and maxThink bound the simulated thinking delay.
	minThink = 1000 * time.Millisecond
	maxThink = 3000 * time.Millisecond
)

// GameMover is the single mutation entry the controller uses. The bot never
// bypasses the validation path human moves take.
type GameMover interface {
	MakeMove(ctx context.Context, id types.GameID, playerID types.UserID, mv rules.MoveInput) error
}

type session struct {
	engine     Engine
	difficulty int
	thinking   bool
}

// Controller drives the BOT player. Register Observe with the game service;
// it reacts to updates where the bot is on move and never holds any game
// service lock while computing.
type Controller struct {
	games     GameMover
	oracle    rules.Oracle
	newEngine EngineFactory
	minThink  time.Duration
	maxThink  time.Duration

	mu       sync.Mutex
	sessions map[types.GameID]*session
}

// New creates the controller. factory may be nil to use the built-in engine.
func New(games GameMover, oracle rules.Oracle, factory EngineFactory) *Controller {
	if factory == nil {
		factory = func(difficulty int) Engine { return NewMaterialEngine(difficulty) }
	}
	return &Controller{
		games:     games,
		oracle:    oracle,
		newEngine: factory,
		minThink:  minThink,
		maxThink:  maxThink,
		sessions:  make(map[types.GameID]*session),
	}
}

// SetThinkBounds overrides the thinking delay range. Test hook.
func (c *Controller) SetThinkBounds(min, max time.Duration) {
	c.minThink = min
	c.maxThink = max
}

// Observe is the game service observer. It must stay cheap: bookkeeping under
// the controller's own lock, and a goroutine for any engine work.
func (c *Controller) Observe(game *types.Game) {
	if !game.HasBot() {
		return
	}

	if game.Status.Terminal() {
		c.dispose(game.ID)
		return
	}

	bot := game.PlayerByID(types.BotUserID)
	side, err := c.oracle.SideToMove(game.Position)
	if err != nil {
		logging.Error(context.Background(), "bot cannot read position",
			zap.String("game_id", string(game.ID)), zap.Error(err))
		return
	}
	if side != bot.Color {
		return
	}

	c.mu.Lock()
	sess, ok := c.sessions[game.ID]
	if !ok {
		if len(c.sessions) >= maxConcurrentGames {
			c.mu.Unlock()
			logging.Warn(context.Background(), "bot game cap reached, not engaging",
				zap.String("game_id", string(game.ID)),
				zap.Int("cap", maxConcurrentGames))
			return
		}
		difficulty := minDifficulty + rand.IntN(maxDifficulty-minDifficulty+1)
		sess = &session{engine: c.newEngine(difficulty), difficulty: difficulty}
		c.sessions[game.ID] = sess
		logging.Info(context.Background(), "bot engaged",
			zap.String("game_id", string(game.ID)),
			zap.Int("difficulty", difficulty))
	}
	if sess.thinking {
		c.mu.Unlock()
		return
	}
	sess.thinking = true
	c.mu.Unlock()

	go c.playMove(game.ID, game.Position, sess)
}

// playMove computes and submits one move after a human-feeling delay.
func (c *Controller) playMove(gameID types.GameID, position string, sess *session) {
	defer func() {
		c.mu.Lock()
		if cur, ok := c.sessions[gameID]; ok && cur == sess {
			sess.thinking = false
		}
		c.mu.Unlock()
	}()

	budget := c.minThink
	if c.maxThink > c.minThink {
		budget += time.Duration(rand.Int64N(int64(c.maxThink - c.minThink)))
	}

	mv, ok := sess.engine.FindBestMove(position, budget)
	if !ok {
		logging.Warn(context.Background(), "bot found no legal move, releasing engine",
			zap.String("game_id", string(gameID)))
		c.dispose(gameID)
		return
	}

	time.Sleep(budget)

	ctx := context.Background()
	if err := c.games.MakeMove(ctx, gameID, types.BotUserID, mv); err != nil {
		// A terminal race (timeout, resignation during the delay) lands here.
		logging.Info(ctx, "bot move not applied",
			zap.String("game_id", string(gameID)),
			zap.Error(err))
	}
}

// dispose releases the engine for a finished game.
func (c *Controller) dispose(gameID types.GameID) {
	c.mu.Lock()
	sess, ok := c.sessions[gameID]
	if ok {
		delete(c.sessions, gameID)
	}
	c.mu.Unlock()
	if ok {
		sess.engine.Dispose()
		logging.Info(context.Background(), "bot disengaged",
			zap.String("game_id", string(gameID)))
	}
}

// ActiveGames reports how many engine sessions are live.
func (c *Controller) ActiveGames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown disposes every live engine.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[types.GameID]*session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.engine.Dispose()
	}
}
