package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// HandleRejoin rebinds a returning player to their ACTIVE game: status back
// to IN_GAME, game back on the tick scheduler, full state replied as
// REJOIN_GAME.
func (s *Service) HandleRejoin(ctx context.Context, userID types.UserID, gameID types.GameID) error {
	if gameID == "" {
		return types.ValidationError("game id is required").WithEvent(types.EventInvalidGameID)
	}

	game, ok, err := s.games.Game(ctx, gameID)
	if err != nil {
		return err
	}
	if !ok || game.Status.Terminal() {
		return types.NotFoundError("game %s is not active", gameID).WithEvent(types.EventGameNotFound)
	}
	if game.PlayerByID(userID) == nil {
		return types.UnauthorizedError("user %s is not in game %s", userID, gameID)
	}

	s.timers.cancelGrace(userID)
	s.setStatus(ctx, userID, types.StatusInGame, 0)
	if err := s.hot.SetString(ctx, store.PlayerLastGameKey(userID), string(gameID), store.LastGameTTL); err != nil {
		logging.Warn(ctx, "failed to refresh lastGame", zap.Error(err))
	}
	s.games.EnsureScheduled(ctx, gameID)

	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventRejoinGame, Payload: game})
	logging.Info(ctx, "player rejoined",
		zap.String("user_id", string(userID)),
		zap.String("game_id", string(gameID)))
	return nil
}

// HandleConnect restores presence after authentication. A pending grace
// timer is cancelled; abandonment then requires a fresh disconnect.
func (s *Service) HandleConnect(ctx context.Context, userID types.UserID) {
	s.timers.cancelGrace(userID)
	s.setStatus(ctx, userID, types.StatusOnline, 0)
}

// HandleDisconnect runs when a socket drops. A player who was neither queued
// nor in a game simply goes OFFLINE. A player mid-game becomes DISCONNECTED
// under a 30-second TTL; the grace task is the sole decider of abandonment
// and re-checks the status when it fires.
func (s *Service) HandleDisconnect(ctx context.Context, userID types.UserID) {
	if err := s.dequeue(ctx, userID); err != nil {
		logging.Warn(ctx, "failed to dequeue on disconnect", zap.String("user_id", string(userID)), zap.Error(err))
	}

	gameID, inGame := s.activeGameFor(ctx, userID)
	if !inGame {
		s.setStatus(ctx, userID, types.StatusOffline, 0)
		return
	}

	s.setStatus(ctx, userID, types.StatusDisconnected, store.DisconnectedStatusTTL)
	logging.Info(ctx, "player disconnected mid-game, grace started",
		zap.String("user_id", string(userID)),
		zap.String("game_id", string(gameID)))

	s.timers.scheduleGrace(userID, s.disconnectGrace, func() {
		s.graceExpired(context.Background(), userID, gameID)
	})
}

// graceExpired abandons the game if the player never came back. Rejoin and
// reconnect both clear the DISCONNECTED status, so the re-check here is what
// makes them win the race.
func (s *Service) graceExpired(ctx context.Context, userID types.UserID, gameID types.GameID) {
	status, ok, err := s.hot.GetString(ctx, store.PlayerStatusKey(userID))
	if err != nil {
		logging.Error(ctx, "grace check failed", zap.String("user_id", string(userID)), zap.Error(err))
		return
	}
	if ok && status != string(types.StatusDisconnected) {
		return
	}

	if err := s.games.Abandon(ctx, gameID, userID); err != nil {
		logging.Error(ctx, "failed to abandon game after grace",
			zap.String("game_id", string(gameID)), zap.Error(err))
		return
	}
	s.setStatus(ctx, userID, types.StatusOffline, 0)
	logging.Info(ctx, "grace expired, game abandoned",
		zap.String("user_id", string(userID)),
		zap.String("game_id", string(gameID)))
}

// activeGameFor resolves the player's current ACTIVE game via lastGame.
func (s *Service) activeGameFor(ctx context.Context, userID types.UserID) (types.GameID, bool) {
	raw, ok, err := s.hot.GetString(ctx, store.PlayerLastGameKey(userID))
	if err != nil || !ok {
		return "", false
	}
	gameID := types.GameID(raw)
	game, ok, err := s.games.Game(ctx, gameID)
	if err != nil || !ok || game.Status.Terminal() {
		return "", false
	}
	if game.PlayerByID(userID) == nil {
		return "", false
	}
	return gameID, true
}
