// Package rules defines the rules-oracle contract the game service depends
// on, and an implementation backed by notnil/chess. The rest of the core
// treats positions as opaque strings and never inspects chess state itself.
package rules

import (
	"github.com/gambitlive/backend/internal/v1/types"
)

// MoveInput is a proposed move in coordinate form.
type MoveInput struct {
	From      string
	To        string
	Promotion string
}

// Result is the oracle's verdict on an accepted move.
type Result struct {
	// Position is the resulting position with the side-to-move advanced.
	Position string
	// SAN is the standard notation of the applied move.
	SAN string
	// Terminal flags of the resulting position.
	Checkmate            bool
	Stalemate            bool
	InsufficientMaterial bool
	FiftyMove            bool
	Threefold            bool
}

// Drawn reports whether any drawing condition holds.
func (r *Result) Drawn() bool {
	return r.Stalemate || r.InsufficientMaterial || r.FiftyMove || r.Threefold
}

// Oracle validates moves and answers position questions. Rejected moves come
// back as a rule-violation error; anything else is an internal failure.
type Oracle interface {
	// StartingPosition returns the canonical initial position.
	StartingPosition() string
	// SideToMove reports which color moves next in position.
	SideToMove(position string) (types.Color, error)
	// ApplyMove validates mv against position and returns the outcome.
	// history is the accepted move list leading to position; repetition
	// draws need it, and a nil history disables only their detection.
	ApplyMove(position string, history []types.Move, mv MoveInput) (*Result, error)
	// LegalTargets lists the destination squares for the piece on square.
	// The piece must belong to the side to move; otherwise the result is
	// empty.
	LegalTargets(position string, square string) ([]string, error)
}
