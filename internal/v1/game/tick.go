package game

import (
	"context"

	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// Tick decrements the side-to-move clock by one second, writes the game back
// and broadcasts the clocks. A clock at zero then ends the game by timeout in
// favor of the opponent. A missing or terminal game removes itself from the
// scheduler.
func (s *Service) Tick(ctx context.Context, id types.GameID) {
	lock := s.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	game, ok, err := s.Game(ctx, id)
	if err != nil {
		logging.Warn(ctx, "tick load failed", zap.String("game_id", string(id)), zap.Error(err))
		return
	}
	if !ok || game.Status.Terminal() {
		s.sched.Remove(id)
		return
	}

	side, err := s.oracle.SideToMove(game.Position)
	if err != nil {
		logging.Error(ctx, "tick cannot read position", zap.String("game_id", string(id)), zap.Error(err))
		return
	}

	var remaining int
	if side == types.ColorWhite {
		game.Clocks.White = max(game.Clocks.White-1, 0)
		remaining = game.Clocks.White
	} else {
		game.Clocks.Black = max(game.Clocks.Black-1, 0)
		remaining = game.Clocks.Black
	}

	if err := s.hot.SetJSON(ctx, store.GameKey(id), game, 0); err != nil {
		logging.Warn(ctx, "tick write failed", zap.String("game_id", string(id)), zap.Error(err))
		return
	}

	// The final clock state goes out before any timeout verdict.
	s.bc.ToGame(game, types.EventTimerUpdate, types.TimerUpdatePayload{
		GameID: id,
		White:  game.Clocks.White,
		Black:  game.Clocks.Black,
	})

	if remaining == 0 {
		s.timeout(ctx, game, side)
	}
}

// timeout ends the game on a flag fall: loser is the color whose clock hit
// zero, winner the other player. Caller holds the game lock.
func (s *Service) timeout(ctx context.Context, game *types.Game, loser types.Color) {
	if loser == types.ColorWhite {
		game.Clocks.White = 0
	} else {
		game.Clocks.Black = 0
	}

	winner := game.PlayerByColor(loser.Opposite())
	var winnerID types.UserID
	if winner != nil {
		winnerID = winner.UserID
	}

	if err := s.finalize(ctx, game, types.GameCompleted, winnerID); err != nil {
		logging.Error(ctx, "failed to finalize timeout",
			zap.String("game_id", string(game.ID)), zap.Error(err))
		return
	}

	s.bc.ToGame(game, types.EventTimeOut, types.TimeOutPayload{
		Game:  game,
		Color: loser,
	})
	s.notifyObserver(game)
}
