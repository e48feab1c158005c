// Package game implements the authoritative per-game state machine: start,
// move application, clock ticks, the draw-offer protocol, resignation,
// timeout and abandonment. All mutations of one game are serialized through
// its lock; the hot store carries the cross-component replica and the durable
// store receives lifecycle boundaries.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/metrics"
	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// Scheduler is the slice of the tick scheduler the game service drives.
type Scheduler interface {
	Add(id types.GameID)
	Remove(id types.GameID)
}

// Analytics receives game lifecycle events. Implementations must be cheap
// and non-blocking; a nil Analytics disables emission.
type Analytics interface {
	GameStarted(ctx context.Context, game *types.Game)
	MoveMade(ctx context.Context, game *types.Game, move types.Move, moveNumber int)
	GameCompleted(ctx context.Context, game *types.Game)
}

// Observer is called after every broadcast-worthy game update. The bot
// controller registers here; it must not call back into the service
// synchronously.
type Observer func(game *types.Game)

// invalidMoveLimit bans a player once reached.
const invalidMoveLimit = 3

// Service is the authoritative game engine session manager.
type Service struct {
	hot       *store.Hot
	durable   store.Durable
	oracle    rules.Oracle
	bc        types.Broadcaster
	sched     Scheduler
	analytics Analytics

	locks *gameLocks

	mu        sync.Mutex
	roomGames map[types.RoomID]types.GameID
	observer  Observer
}

// New creates the game service. analytics may be nil.
func New(hot *store.Hot, durable store.Durable, oracle rules.Oracle, bc types.Broadcaster, sched Scheduler, analytics Analytics) *Service {
	return &Service{
		hot:       hot,
		durable:   durable,
		oracle:    oracle,
		bc:        bc,
		sched:     sched,
		analytics: analytics,
		locks:     newGameLocks(),
		roomGames: make(map[types.RoomID]types.GameID),
	}
}

// SetObserver registers the post-update observer (the bot controller).
func (s *Service) SetObserver(fn Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

func (s *Service) notifyObserver(game *types.Game) {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn(game)
	}
}

// Start creates the game for an ACTIVE, fully seated room. A zero tc selects
// the default time control. Rejects if a game is already running for the room.
func (s *Service) Start(ctx context.Context, roomID types.RoomID, tc types.TimeControl) (*types.Game, error) {
	var room types.Room
	ok, err := s.hot.GetJSON(ctx, store.RoomKey(roomID), &room)
	if err != nil {
		return nil, types.TransientError("failed to load room", err)
	}
	if !ok {
		return nil, types.NotFoundError("room %s not found", roomID)
	}
	if room.Status != types.RoomActive || len(room.Players) != 2 {
		return nil, types.ConflictError("room %s is not ready for a game", roomID)
	}
	for _, p := range room.Players {
		if p.Color == types.ColorUnset {
			return nil, types.ConflictError("room %s has unassigned colors", roomID)
		}
	}

	s.mu.Lock()
	if existing, busy := s.roomGames[roomID]; busy {
		s.mu.Unlock()
		return nil, types.ConflictError("room %s already has active game %s", roomID, existing)
	}
	// Reserve the slot before the stores are touched so a concurrent Start
	// for the same room fails fast.
	gameID := types.GameID(uuid.NewString())
	s.roomGames[roomID] = gameID
	s.mu.Unlock()

	if tc.Initial <= 0 {
		tc = types.DefaultTimeControl
	}

	game := &types.Game{
		ID:          gameID,
		RoomID:      roomID,
		Position:    s.oracle.StartingPosition(),
		MoveHistory: []types.Move{},
		Clocks:      types.Clocks{White: tc.Initial, Black: tc.Initial},
		TimeControl: tc,
		Status:      types.GameActive,
		Chat:        []types.ChatEntry{},
		CreatedAt:   time.Now().UTC(),
	}
	for i, p := range room.Players {
		game.Players[i] = types.GamePlayer{
			UserID:      p.UserID,
			Color:       p.Color,
			DisplayName: s.displayName(ctx, p.UserID),
		}
	}

	if err := s.durable.UpsertGame(ctx, game); err != nil {
		s.releaseRoom(roomID)
		return nil, types.TransientError("failed to persist game", err)
	}
	if err := s.hot.SetJSON(ctx, store.GameKey(game.ID), game, 0); err != nil {
		s.releaseRoom(roomID)
		return nil, types.TransientError("failed to publish game", err)
	}

	for _, p := range game.Players {
		if p.UserID == types.BotUserID {
			continue
		}
		if err := s.hot.SetString(ctx, store.PlayerLastGameKey(p.UserID), string(game.ID), store.LastGameTTL); err != nil {
			logging.Warn(ctx, "failed to record lastGame", zap.String("user_id", string(p.UserID)), zap.Error(err))
		}
	}
	// Stale illegal-move counters from a previous game must not carry over.
	if err := s.hot.Del(ctx, store.InvalidMovesKey(game.Players[0].UserID), store.InvalidMovesKey(game.Players[1].UserID)); err != nil {
		logging.Warn(ctx, "failed to clear invalid-move counters", zap.Error(err))
	}

	s.sched.Add(game.ID)
	metrics.ActiveGames.Inc()

	if s.analytics != nil {
		s.analytics.GameStarted(ctx, game)
	}

	logging.Info(ctx, "game started",
		zap.String("game_id", string(game.ID)),
		zap.String("room_id", string(roomID)))

	s.bc.ToGame(game, types.EventRoomUpdated, game)
	s.notifyObserver(game)
	return game, nil
}

// EnsureScheduled puts an ACTIVE game back on the tick scheduler after a
// rejoin.
func (s *Service) EnsureScheduled(ctx context.Context, id types.GameID) {
	game, err := s.loadActive(ctx, id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.roomGames[game.RoomID] = game.ID
	s.mu.Unlock()
	s.sched.Add(id)
}

// Load retrieves a game (hot store first, then durable) and replies
// GAME_LOADED to the requester.
func (s *Service) Load(ctx context.Context, id types.GameID, userID types.UserID) error {
	if id == "" {
		return types.ValidationError("game id is required").WithEvent(types.EventInvalidGameID)
	}

	game, err := s.findGame(ctx, id)
	if err != nil {
		var de *types.Error
		if errors.As(err, &de) && de.Kind == types.KindNotFound {
			return de.WithEvent(types.EventGameNotFound)
		}
		return types.TransientError("failed to load game", err).WithEvent(types.EventLoadGameError)
	}

	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventGameLoaded, Payload: game})
	return nil
}

// AppendChat adds a validated chat entry under the game's serialization and
// broadcasts the updated game. Validation and rate limiting belong to the
// chat service; this is the single mutation entry.
func (s *Service) AppendChat(ctx context.Context, id types.GameID, entry types.ChatEntry) (*types.Game, error) {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if game.PlayerByID(entry.AuthorUserID) == nil {
		return nil, types.UnauthorizedError("user %s is not in game %s", entry.AuthorUserID, id)
	}

	game.Chat = append(game.Chat, entry)
	if err := s.hot.SetJSON(ctx, store.GameKey(id), game, 0); err != nil {
		return nil, types.TransientError("failed to update game", err)
	}

	s.bc.ToGame(game, "", nil)
	return game, nil
}

// Game returns the current game state from the hot store.
func (s *Service) Game(ctx context.Context, id types.GameID) (*types.Game, bool, error) {
	var game types.Game
	ok, err := s.hot.GetJSON(ctx, store.GameKey(id), &game)
	if err != nil {
		return nil, false, types.TransientError("failed to load game", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &game, true, nil
}

// --- internals ---

func (s *Service) displayName(ctx context.Context, id types.UserID) string {
	if id == types.BotUserID {
		return "Bot"
	}
	user, err := s.durable.GetUser(ctx, id)
	if err != nil || user.DisplayName == "" {
		return string(id)
	}
	return user.DisplayName
}

func (s *Service) releaseRoom(roomID types.RoomID) {
	s.mu.Lock()
	delete(s.roomGames, roomID)
	s.mu.Unlock()
}

// loadActive loads the hot-store game and rejects terminal or missing games.
func (s *Service) loadActive(ctx context.Context, id types.GameID) (*types.Game, error) {
	game, ok, err := s.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NotFoundError("game %s not found", id)
	}
	if game.Status.Terminal() {
		return nil, types.ConflictError("game %s is not active", id)
	}
	return game, nil
}

// findGame reads through the hot store to the durable store.
func (s *Service) findGame(ctx context.Context, id types.GameID) (*types.Game, error) {
	game, ok, err := s.Game(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return game, nil
	}
	durableGame, err := s.durable.FindGame(ctx, id)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, types.NotFoundError("game %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("durable lookup for game %s: %w", id, err)
	}
	return durableGame, nil
}

// finalize applies a terminal transition: durable transaction first (game
// row, room CLOSED, user statuses ONLINE), then the hot replica, then
// scheduler removal. Callers hold the game lock and broadcast afterwards.
func (s *Service) finalize(ctx context.Context, game *types.Game, status types.GameStatus, winner types.UserID) error {
	game.Status = status
	game.WinnerUserID = winner

	if err := s.durable.FinishGameTx(ctx, game); err != nil {
		// Roll the in-memory copy back so the hot replica is never ahead
		// of the durable store.
		game.Status = types.GameActive
		game.WinnerUserID = ""
		return types.TransientError("failed to persist terminal game", err)
	}

	if err := s.hot.SetJSON(ctx, store.GameKey(game.ID), game, 0); err != nil {
		logging.Error(ctx, "failed to update hot game after terminal transition",
			zap.String("game_id", string(game.ID)), zap.Error(err))
	}

	offerKeys := []string{
		store.DrawOfferKey(game.ID, game.Players[0].UserID),
		store.DrawOfferKey(game.ID, game.Players[1].UserID),
		store.RoomKey(game.RoomID),
	}
	if err := s.hot.Del(ctx, offerKeys...); err != nil {
		logging.Warn(ctx, "failed to purge room/draw keys", zap.String("game_id", string(game.ID)), zap.Error(err))
	}

	for _, p := range game.Players {
		if p.UserID == types.BotUserID {
			continue
		}
		if err := s.hot.SetString(ctx, store.PlayerStatusKey(p.UserID), string(types.StatusOnline), 0); err != nil {
			logging.Warn(ctx, "failed to reset player status", zap.String("user_id", string(p.UserID)), zap.Error(err))
		}
	}

	s.sched.Remove(game.ID)
	s.locks.forget(game.ID)
	s.releaseRoom(game.RoomID)
	metrics.ActiveGames.Dec()

	if s.analytics != nil {
		s.analytics.GameCompleted(ctx, game)
	}

	logging.Info(ctx, "game finished",
		zap.String("game_id", string(game.ID)),
		zap.String("status", string(status)),
		zap.String("winner", string(winner)))
	return nil
}
