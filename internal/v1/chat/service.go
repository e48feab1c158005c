// Package chat handles in-game chat and typing indicators. Persistence and
// fan-out ride on the game service; this layer owns validation and the
// per-user chat budget.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gambitlive/backend/internal/v1/types"
)

// maxMessageLen caps a chat message, measured in runes.
const maxMessageLen = 500

// GameChat is the slice of the game service chat depends on.
type GameChat interface {
	AppendChat(ctx context.Context, id types.GameID, entry types.ChatEntry) (*types.Game, error)
	Game(ctx context.Context, id types.GameID) (*types.Game, bool, error)
}

// ChatLimiter gates message frequency per user.
type ChatLimiter interface {
	AllowChat(ctx context.Context, userID types.UserID) bool
}

// Service validates and forwards chat traffic.
type Service struct {
	games   GameChat
	limiter ChatLimiter
	bc      types.Broadcaster
	now     func() time.Time
}

// New creates the chat service. limiter may be nil to disable throttling.
func New(games GameChat, limiter ChatLimiter, bc types.Broadcaster) *Service {
	return &Service{games: games, limiter: limiter, bc: bc, now: time.Now}
}

// Send validates and appends one message to the game's chat log. The
// updated game goes to both players via the game service broadcast.
func (s *Service) Send(ctx context.Context, id types.GameID, authorID types.UserID, text string) error {
	if id == "" {
		return types.ValidationError("game id is required")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return types.ValidationError("message is empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return types.ValidationError("message exceeds %d characters", maxMessageLen)
	}

	if s.limiter != nil && !s.limiter.AllowChat(ctx, authorID) {
		return types.RateLimitError("chat rate limit exceeded")
	}

	_, err := s.games.AppendChat(ctx, id, types.ChatEntry{
		AuthorUserID: authorID,
		Text:         text,
		TimestampMs:  s.now().UnixMilli(),
	})
	return err
}

// History replies with the game's chat log. Participants only; terminal
// games still serve their history.
func (s *Service) History(ctx context.Context, id types.GameID, userID types.UserID) error {
	if id == "" {
		return types.ValidationError("game id is required")
	}

	game, ok, err := s.games.Game(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NotFoundError("game %s not found", id)
	}
	if game.PlayerByID(userID) == nil {
		return types.UnauthorizedError("user %s is not in game %s", userID, id)
	}

	s.bc.ToClient(userID, types.ServerMessage{
		Type:    types.EventChatHistory,
		Payload: types.ChatHistoryPayload{GameID: id, Messages: game.Chat},
	})
	return nil
}

// Typing relays a typing indicator to the opponent only. Indicators are
// ephemeral; nothing is stored and failures reduce to silence.
func (s *Service) Typing(ctx context.Context, id types.GameID, userID types.UserID) error {
	game, ok, err := s.games.Game(ctx, id)
	if err != nil {
		return err
	}
	if !ok || game.Status.Terminal() {
		return nil
	}
	opponent := game.Opponent(userID)
	if game.PlayerByID(userID) == nil || opponent == nil {
		return nil
	}

	s.bc.ToClient(opponent.UserID, types.ServerMessage{
		Type:    types.EventTyping,
		Payload: types.TypingPayload{GameID: id, UserID: userID},
	})
	return nil
}
