// Package bot plays games for the reserved BOT identity. A controller
// observes game updates and, when it is the bot's move, asks an engine for
// a move and submits it through the same entry point human moves use.
package bot

import (
	"math/rand/v2"
	"time"

	"github.com/notnil/chess"

	"github.com/gambitlive/backend/internal/v1/rules"
)

// Engine computes moves for one game. Implementations own whatever process
// or state they need and release it in Dispose.
type Engine interface {
	// FindBestMove returns the engine's move for the position within the
	// given budget. ok is false when no legal move exists.
	FindBestMove(position string, budget time.Duration) (rules.MoveInput, bool)
	// Dispose releases engine resources. Safe to call more than once.
	Dispose()
}

// EngineFactory builds an engine for a game at the given difficulty.
type EngineFactory func(difficulty int) Engine

// MaterialEngine is the built-in engine: a single-ply material count with
// capture, promotion and check bonuses. Difficulty scales the amount of
// random noise mixed into the evaluation, so lower difficulties blunder.
type MaterialEngine struct {
	difficulty int
}

// NewMaterialEngine creates the built-in engine. Difficulty runs 1 (noisy)
// to 5 (near-deterministic).
func NewMaterialEngine(difficulty int) *MaterialEngine {
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > 5 {
		difficulty = 5
	}
	return &MaterialEngine{difficulty: difficulty}
}

var pieceValues = map[chess.PieceType]float64{
	chess.Pawn:   1,
	chess.Knight: 3,
	chess.Bishop: 3,
	chess.Rook:   5,
	chess.Queen:  9,
}

func (e *MaterialEngine) FindBestMove(position string, budget time.Duration) (rules.MoveInput, bool) {
	fen, err := chess.FEN(position)
	if err != nil {
		return rules.MoveInput{}, false
	}
	game := chess.NewGame(fen)

	moves := game.ValidMoves()
	if len(moves) == 0 {
		return rules.MoveInput{}, false
	}

	// Noise amplitude shrinks as difficulty rises.
	noise := float64(6-e.difficulty) * 0.8

	var best *chess.Move
	bestScore := 0.0
	board := game.Position().Board()
	for _, mv := range moves {
		score := 0.0
		if mv.HasTag(chess.Capture) {
			if captured := board.Piece(mv.S2()); captured != chess.NoPiece {
				score += pieceValues[captured.Type()]
			} else {
				// En passant: the captured pawn is not on the target square.
				score += 1
			}
		}
		if mv.Promo() != chess.NoPieceType {
			score += pieceValues[mv.Promo()]
		}
		if mv.HasTag(chess.Check) {
			score += 0.5
		}
		score += rand.Float64() * noise

		if best == nil || score > bestScore {
			best = mv
			bestScore = score
		}
	}

	return rules.MoveInput{
		From:      best.S1().String(),
		To:        best.S2().String(),
		Promotion: promoLetter(best.Promo()),
	}, true
}

func (e *MaterialEngine) Dispose() {}

func promoLetter(pt chess.PieceType) string {
	switch pt {
	case chess.Queen:
		return "q"
	case chess.Rook:
		return "r"
	case chess.Bishop:
		return "b"
	case chess.Knight:
		return "n"
	default:
		return ""
	}
}
