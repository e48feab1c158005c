// Package types holds the core domain model and the wire protocol shared by
// every service in the chess core. It has no dependencies on the services
// themselves so that room, game, chat and transport can all import it without
// cycles.
package types

import (
	"time"
)

// --- Identifiers ---

// UserID is an opaque user identifier issued by the auth surface.
type UserID string

// RoomID is an opaque room identifier.
type RoomID string

// GameID is an opaque game identifier.
type GameID string

// BotUserID is the reserved pseudo-user the bot controller plays as.
const BotUserID UserID = "BOT"

// --- Colors ---

// Color is a chess side. The zero value ColorUnset marks an unassigned seat.
type Color string

const (
	ColorUnset Color = ""
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Opposite returns the other side. Unset maps to unset.
func (c Color) Opposite() Color {
	switch c {
	case ColorWhite:
		return ColorBlack
	case ColorBlack:
		return ColorWhite
	default:
		return ColorUnset
	}
}

// --- User ---

// UserStatus tracks where a user is in the connect/queue/play lifecycle.
type UserStatus string

const (
	StatusOffline      UserStatus = "OFFLINE"
	StatusOnline       UserStatus = "ONLINE"
	StatusWaiting      UserStatus = "WAITING"
	StatusInGame       UserStatus = "IN_GAME"
	StatusDisconnected UserStatus = "DISCONNECTED"
)

// DefaultElo is the rating assigned to users with no game history.
const DefaultElo = 1500

// User is the minimal projection of a durable user record that the core
// reads and mutates. Only Status and Banned change inside the core.
type User struct {
	ID          UserID     `json:"id"`
	DisplayName string     `json:"displayName"`
	Status      UserStatus `json:"status"`
	Elo         int        `json:"elo"`
	Banned      bool       `json:"banned"`
}

// --- Room ---

// RoomType distinguishes open matchmade rooms from invite-only ones.
type RoomType string

const (
	RoomPublic  RoomType = "PUBLIC"
	RoomPrivate RoomType = "PRIVATE"
)

// RoomStatus is the room lifecycle state.
type RoomStatus string

const (
	RoomOpen   RoomStatus = "OPEN"
	RoomActive RoomStatus = "ACTIVE"
	RoomClosed RoomStatus = "CLOSED"
)

// RoomPlayer is a seat in a room. Color stays unset until the room activates.
type RoomPlayer struct {
	UserID UserID `json:"userId"`
	Color  Color  `json:"color"`
}

// Room pairs up to two players ahead of a game.
type Room struct {
	ID         RoomID       `json:"id"`
	Type       RoomType     `json:"type"`
	Status     RoomStatus   `json:"status"`
	Players    []RoomPlayer `json:"players"`
	InviteCode string       `json:"inviteCode,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// HasPlayer reports whether userID already holds a seat.
func (r *Room) HasPlayer(userID UserID) bool {
	for _, p := range r.Players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether both seats are taken.
func (r *Room) IsFull() bool {
	return len(r.Players) >= 2
}

// --- Game ---

// TimeControl is the clock configuration in seconds.
type TimeControl struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
}

// DefaultTimeControl is 10 minutes with no increment.
var DefaultTimeControl = TimeControl{Initial: 600, Increment: 0}

// Move is one accepted ply. SAN is filled in by the rules oracle.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
}

// ChatEntry is one message in a game's chat log.
type ChatEntry struct {
	AuthorUserID UserID `json:"authorUserId"`
	Text         string `json:"text"`
	TimestampMs  int64  `json:"timestampMs"`
}

// GameStatus is the game lifecycle state. Everything except GameActive is
// terminal and frozen.
type GameStatus string

const (
	GameActive    GameStatus = "ACTIVE"
	GameCompleted GameStatus = "COMPLETED"
	GameDraw      GameStatus = "DRAW"
	GameResigned  GameStatus = "RESIGNED"
	GameAbandoned GameStatus = "ABANDONED"
)

// Terminal reports whether the status admits no further transitions.
func (s GameStatus) Terminal() bool {
	return s != GameActive
}

// GamePlayer is a seated, colored participant of a game.
type GamePlayer struct {
	UserID      UserID `json:"userId"`
	Color       Color  `json:"color"`
	DisplayName string `json:"displayName"`
}

// Clocks holds remaining thinking time in whole seconds per side.
type Clocks struct {
	White int `json:"white"`
	Black int `json:"black"`
}

// ByColor returns the remaining seconds for the given side.
func (c Clocks) ByColor(color Color) int {
	if color == ColorWhite {
		return c.White
	}
	return c.Black
}

// Game is the authoritative per-game record. The hot store holds the live
// replica; the durable store receives it at lifecycle boundaries.
type Game struct {
	ID           GameID        `json:"id"`
	RoomID       RoomID        `json:"roomId"`
	Position     string        `json:"position"`
	MoveHistory  []Move        `json:"moveHistory"`
	Clocks       Clocks        `json:"clocks"`
	TimeControl  TimeControl   `json:"timeControl"`
	Status       GameStatus    `json:"status"`
	Players      [2]GamePlayer `json:"players"`
	Chat         []ChatEntry   `json:"chat"`
	WinnerUserID UserID        `json:"winnerUserId,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// PlayerByID returns the seat for userID, or nil if the user is not playing.
func (g *Game) PlayerByID(userID UserID) *GamePlayer {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return &g.Players[i]
		}
	}
	return nil
}

// PlayerByColor returns the seat holding the given color.
func (g *Game) PlayerByColor(color Color) *GamePlayer {
	for i := range g.Players {
		if g.Players[i].Color == color {
			return &g.Players[i]
		}
	}
	return nil
}

// Opponent returns the other seat, or nil if userID is not playing.
func (g *Game) Opponent(userID UserID) *GamePlayer {
	if g.PlayerByID(userID) == nil {
		return nil
	}
	for i := range g.Players {
		if g.Players[i].UserID != userID {
			return &g.Players[i]
		}
	}
	return nil
}

// HasBot reports whether the reserved bot identity holds a seat.
func (g *Game) HasBot() bool {
	return g.PlayerByID(BotUserID) != nil
}

// --- Shared service interfaces ---

// Broadcaster fans out server events to connected clients. The connection
// registry implements it; services never touch sockets directly.
type Broadcaster interface {
	// ToClient is a best-effort single-recipient send. Messages to users
	// without an open socket are dropped silently.
	ToClient(userID UserID, msg ServerMessage)
	// ToRoom sends ROOM_UPDATED carrying the room to each seated player.
	ToRoom(room *Room)
	// ToGame sends event (GAME_UPDATED when empty) to both players. A nil
	// payload defaults to the game itself.
	ToGame(game *Game, event string, payload any)
}
