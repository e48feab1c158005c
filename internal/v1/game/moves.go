package game

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/metrics"
	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// MakeMove validates and applies one move for playerID. Oracle rejections
// feed the illegal-move counter; the third strike bans the player.
func (s *Service) MakeMove(ctx context.Context, id types.GameID, playerID types.UserID, mv rules.MoveInput) error {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}

	player := game.PlayerByID(playerID)
	if player == nil {
		return types.UnauthorizedError("user %s is not in game %s", playerID, id)
	}

	// A third-strike ban outlives the game that earned it. Guests without a
	// durable row pass.
	if playerID != types.BotUserID {
		user, err := s.durable.GetUser(ctx, playerID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return types.TransientError("failed to load user", err)
		}
		if user != nil && user.Banned {
			return types.UnauthorizedError("user %s is banned", playerID)
		}
	}

	side, err := s.oracle.SideToMove(game.Position)
	if err != nil {
		return types.TransientError("failed to read position", err)
	}
	if side != player.Color {
		return types.ConflictError("not your turn")
	}

	result, err := s.oracle.ApplyMove(game.Position, game.MoveHistory, mv)
	if err != nil {
		if types.KindOf(err) == types.KindRuleViolation {
			return s.recordInvalidMove(ctx, game, playerID, err.Error())
		}
		return types.TransientError("move validation failed", err)
	}

	move := types.Move{From: mv.From, To: mv.To, Promotion: mv.Promotion, SAN: result.SAN}
	game.Position = result.Position
	game.MoveHistory = append(game.MoveHistory, move)

	// The increment lands on the mover's clock exactly once, at acceptance.
	if game.TimeControl.Increment > 0 {
		if player.Color == types.ColorWhite {
			game.Clocks.White += game.TimeControl.Increment
		} else {
			game.Clocks.Black += game.TimeControl.Increment
		}
	}

	switch {
	case result.Checkmate:
		if err := s.finalize(ctx, game, types.GameCompleted, playerID); err != nil {
			return err
		}
		metrics.MovesApplied.WithLabelValues("checkmate").Inc()
	case result.Drawn():
		if err := s.finalize(ctx, game, types.GameDraw, ""); err != nil {
			return err
		}
		metrics.MovesApplied.WithLabelValues("draw").Inc()
	default:
		if err := s.hot.SetJSON(ctx, store.GameKey(id), game, 0); err != nil {
			return types.TransientError("failed to update game", err)
		}
		metrics.MovesApplied.WithLabelValues("continue").Inc()
	}

	if s.analytics != nil {
		s.analytics.MoveMade(ctx, game, move, len(game.MoveHistory))
	}

	s.bc.ToGame(game, "", nil)
	s.notifyObserver(game)
	return nil
}

// recordInvalidMove bumps the hot-store counter and bans on the third strike.
// The rejected move is never applied.
func (s *Service) recordInvalidMove(ctx context.Context, game *types.Game, playerID types.UserID, reason string) error {
	attempts, err := s.hot.Incr(ctx, store.InvalidMovesKey(playerID), store.InvalidMovesTTL)
	if err != nil {
		return types.TransientError("failed to count invalid move", err)
	}

	if attempts >= invalidMoveLimit {
		if err := s.durable.SetUserBanned(ctx, playerID, true); err != nil {
			return types.TransientError("failed to ban player", err)
		}
		logging.Warn(ctx, "player banned for illegal moves",
			zap.String("game_id", string(game.ID)),
			zap.String("user_id", string(playerID)))
		s.bc.ToClient(playerID, types.ServerMessage{
			Type:    types.EventError,
			Payload: types.ErrorPayload{Message: "Banned for Illegal moves."},
		})
		return nil
	}

	s.bc.ToClient(playerID, types.ServerMessage{
		Type: types.EventIllegalMove,
		Payload: types.IllegalMovePayload{
			GameID:   game.ID,
			Reason:   reason,
			Attempts: attempts,
		},
	})
	return nil
}

// GetLegalMoves answers with the destination squares for the piece on square,
// or an empty set when it is not the player's piece or turn.
func (s *Service) GetLegalMoves(ctx context.Context, id types.GameID, playerID types.UserID, square string) error {
	game, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}

	player := game.PlayerByID(playerID)
	if player == nil {
		return types.UnauthorizedError("user %s is not in game %s", playerID, id)
	}

	targets := []string{}
	side, err := s.oracle.SideToMove(game.Position)
	if err != nil {
		return types.TransientError("failed to read position", err)
	}
	if side == player.Color {
		targets, err = s.oracle.LegalTargets(game.Position, square)
		if err != nil {
			return types.TransientError("failed to enumerate moves", err)
		}
	}

	s.bc.ToClient(playerID, types.ServerMessage{
		Type: types.EventLegalMovesUpdate,
		Payload: types.LegalMovesUpdatePayload{
			GameID:  id,
			Square:  square,
			Targets: targets,
		},
	})
	return nil
}

// Resign ends the game in favor of the opponent.
func (s *Service) Resign(ctx context.Context, id types.GameID, playerID types.UserID) error {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}

	player := game.PlayerByID(playerID)
	if player == nil {
		return types.UnauthorizedError("user %s is not in game %s", playerID, id)
	}
	opponent := game.Opponent(playerID)

	if err := s.finalize(ctx, game, types.GameResigned, opponent.UserID); err != nil {
		return err
	}

	s.bc.ToGame(game, types.EventPlayerResigned, types.PlayerResignedPayload{
		Game:        game,
		DisplayName: player.DisplayName,
	})
	s.notifyObserver(game)
	return nil
}

// Abandon ends the game after a disconnect grace expired; the remaining
// player wins. Non-active games are a no-op. Unlike other terminals, the
// hot-store entries for the game and both players' lastGame are purged.
func (s *Service) Abandon(ctx context.Context, id types.GameID, leaverID types.UserID) error {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, ok, err := s.Game(ctx, id)
	if err != nil {
		return err
	}
	if !ok || game.Status.Terminal() {
		return nil
	}

	opponent := game.Opponent(leaverID)
	if opponent == nil {
		return types.UnauthorizedError("user %s is not in game %s", leaverID, id)
	}

	if err := s.finalize(ctx, game, types.GameAbandoned, opponent.UserID); err != nil {
		return err
	}

	purge := []string{store.GameKey(id)}
	for _, p := range game.Players {
		if p.UserID != types.BotUserID {
			purge = append(purge, store.PlayerLastGameKey(p.UserID))
		}
	}
	if err := s.hot.Del(ctx, purge...); err != nil {
		logging.Warn(ctx, "failed to purge abandoned game keys", zap.String("game_id", string(id)), zap.Error(err))
	}

	// The abandoner's socket is gone; the opponent still receives this.
	s.bc.ToGame(game, "", nil)
	s.notifyObserver(game)
	return nil
}
