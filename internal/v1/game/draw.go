package game

import (
	"context"

	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// OfferDraw records a 5-minute draw offer from playerID and notifies both
// sides. A repeated offer refreshes the TTL rather than erroring.
func (s *Service) OfferDraw(ctx context.Context, id types.GameID, playerID types.UserID) error {
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

	if err := s.hot.SetString(ctx, store.DrawOfferKey(id, playerID), "1", store.DrawOfferTTL); err != nil {
		return types.TransientError("failed to record draw offer", err)
	}

	s.bc.ToClient(opponent.UserID, types.ServerMessage{
		Type:    types.EventDrawOffered,
		Payload: types.DrawOfferPayload{GameID: id, DisplayName: player.DisplayName},
	})
	s.bc.ToClient(playerID, types.ServerMessage{
		Type:    types.EventDrawOfferSent,
		Payload: types.GameRefPayload{GameID: id},
	})
	return nil
}

// AcceptDraw ends the game as a draw, provided the opponent has a live offer.
// An expired or absent offer rejects the acceptance.
func (s *Service) AcceptDraw(ctx context.Context, id types.GameID, playerID types.UserID) error {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}

	if game.PlayerByID(playerID) == nil {
		return types.UnauthorizedError("user %s is not in game %s", playerID, id)
	}
	opponent := game.Opponent(playerID)

	_, offered, err := s.hot.GetString(ctx, store.DrawOfferKey(id, opponent.UserID))
	if err != nil {
		return types.TransientError("failed to check draw offer", err)
	}
	if !offered {
		return types.ConflictError("no draw offer to accept")
	}

	if err := s.finalize(ctx, game, types.GameDraw, ""); err != nil {
		return err
	}

	s.bc.ToGame(game, types.EventDrawAccepted, game)
	s.notifyObserver(game)
	return nil
}

// DeclineDraw drops the opponent's pending offer and tells them. Declining
// when no offer exists is a silent no-op.
func (s *Service) DeclineDraw(ctx context.Context, id types.GameID, playerID types.UserID) error {
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

	if err := s.hot.Del(ctx, store.DrawOfferKey(id, opponent.UserID)); err != nil {
		return types.TransientError("failed to clear draw offer", err)
	}

	s.bc.ToClient(opponent.UserID, types.ServerMessage{
		Type:    types.EventDrawDeclined,
		Payload: types.DrawOfferPayload{GameID: id, DisplayName: player.DisplayName},
	})
	return nil
}
