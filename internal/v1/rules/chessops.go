package rules

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/gambitlive/backend/internal/v1/types"
)

// startingFEN is the standard initial position.
const startingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ChessOracle implements Oracle over notnil/chess. Positions are FEN strings;
// ApplyMove replays the accepted move history from the initial position so
// repetition draws stay detectable across the stateless call boundary.
type ChessOracle struct{}

// NewOracle returns the chess rules oracle.
func NewOracle() *ChessOracle {
	return &ChessOracle{}
}

func (o *ChessOracle) StartingPosition() string {
	return startingFEN
}

func (o *ChessOracle) SideToMove(position string) (types.Color, error) {
	game, err := gameFromFEN(position)
	if err != nil {
		return types.ColorUnset, err
	}
	if game.Position().Turn() == chess.White {
		return types.ColorWhite, nil
	}
	return types.ColorBlack, nil
}

func (o *ChessOracle) ApplyMove(position string, history []types.Move, mv MoveInput) (*Result, error) {
	game, err := gameWithHistory(position, history)
	if err != nil {
		return nil, err
	}

	uci := strings.ToLower(mv.From + mv.To + mv.Promotion)
	move, err := chess.UCINotation{}.Decode(game.Position(), uci)
	if err != nil {
		return nil, types.RuleViolationError("illegal move %s", uci)
	}

	// Encode SAN against the pre-move position; the encoder appends the
	// check and mate suffixes from the move tags.
	san := chess.AlgebraicNotation{}.Encode(game.Position(), move)

	if err := game.Move(move); err != nil {
		return nil, types.RuleViolationError("illegal move %s", uci)
	}

	res := &Result{
		Position: game.Position().String(),
		SAN:      san,
	}

	switch game.Position().Status() {
	case chess.Checkmate:
		res.Checkmate = true
	case chess.Stalemate:
		res.Stalemate = true
	}

	if game.Outcome() == chess.Draw && game.Method() == chess.InsufficientMaterial {
		res.InsufficientMaterial = true
	}
	for _, m := range game.EligibleDraws() {
		switch m {
		case chess.FiftyMoveRule:
			res.FiftyMove = true
		case chess.ThreefoldRepetition:
			res.Threefold = true
		}
	}

	return res, nil
}

func (o *ChessOracle) LegalTargets(position string, square string) ([]string, error) {
	game, err := gameFromFEN(position)
	if err != nil {
		return nil, err
	}

	square = strings.ToLower(square)
	targets := make([]string, 0, 8)
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() == square {
			targets = append(targets, mv.S2().String())
		}
	}
	return targets, nil
}

// gameWithHistory replays the accepted move list from the initial position so
// the library keeps the position history repetition draws depend on. A missing
// or inconsistent history falls back to the bare FEN, losing only repetition
// detection.
func gameWithHistory(position string, history []types.Move) (*chess.Game, error) {
	if len(history) == 0 {
		return gameFromFEN(position)
	}
	game := chess.NewGame()
	for _, m := range history {
		uci := strings.ToLower(m.From + m.To + m.Promotion)
		move, err := chess.UCINotation{}.Decode(game.Position(), uci)
		if err != nil {
			return gameFromFEN(position)
		}
		if err := game.Move(move); err != nil {
			return gameFromFEN(position)
		}
	}
	if game.Position().String() != position {
		return gameFromFEN(position)
	}
	return game, nil
}

func gameFromFEN(position string) (*chess.Game, error) {
	if position == "" || position == startingFEN {
		return chess.NewGame(), nil
	}
	fen, err := chess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}
	return chess.NewGame(fen), nil
}
