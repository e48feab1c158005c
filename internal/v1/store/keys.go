package store

import (
	"time"

	"github.com/gambitlive/backend/internal/v1/types"
)

// Hot-store key layout. Every key the core touches is built here so the
// schema stays greppable in one place.

const (
	// GuestQueueKey holds the guest matchmaking queue, head = oldest.
	GuestQueueKey = "guestQueue"
	// RatedQueueKey holds the rated matchmaking queue, head = oldest.
	RatedQueueKey = "ratedQueue"
)

const (
	DisconnectedStatusTTL = 30 * time.Second
	LastGameTTL           = time.Hour
	InvalidMovesTTL       = time.Hour
	DrawOfferTTL          = 300 * time.Second
)

func GameKey(id types.GameID) string { return "game:" + string(id) }

func RoomKey(id types.RoomID) string { return "room:" + string(id) }

func PlayerStatusKey(id types.UserID) string { return "player:" + string(id) + ":status" }

func PlayerQueueKey(id types.UserID) string { return "player:" + string(id) + ":queue" }

func PlayerQueueTimeoutKey(id types.UserID) string {
	return "player:" + string(id) + ":queueTimeoutId"
}

func PlayerQueueEloKey(id types.UserID) string { return "player:" + string(id) + ":queueElo" }

func PlayerLastGameKey(id types.UserID) string { return "player:" + string(id) + ":lastGame" }

func InvalidMovesKey(id types.UserID) string { return "invalidMoves:" + string(id) }

func DrawOfferKey(g types.GameID, u types.UserID) string {
	return "drawOffer:" + string(g) + ":" + string(u)
}

// InviteCodeKey indexes OPEN private rooms by invite code so creation can
// enforce uniqueness and joins can look the room up without a scan.
func InviteCodeKey(code string) string { return "inviteCode:" + code }
