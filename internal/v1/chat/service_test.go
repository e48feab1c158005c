package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gambitlive/backend/internal/v1/types"
)

type fakeGames struct {
	mu      sync.Mutex
	games   map[types.GameID]*types.Game
	entries []types.ChatEntry
}

func newFakeGames() *fakeGames {
	return &fakeGames{games: make(map[types.GameID]*types.Game)}
}

func (g *fakeGames) AppendChat(_ context.Context, id types.GameID, entry types.ChatEntry) (*types.Game, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	game, ok := g.games[id]
	if !ok {
		return nil, types.NotFoundError("game %s not found", id)
	}
	if game.PlayerByID(entry.AuthorUserID) == nil {
		return nil, types.UnauthorizedError("user %s is not in game %s", entry.AuthorUserID, id)
	}
	g.entries = append(g.entries, entry)
	game.Chat = append(game.Chat, entry)
	return game, nil
}

func (g *fakeGames) Game(_ context.Context, id types.GameID) (*types.Game, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	game, ok := g.games[id]
	return game, ok, nil
}

type fakeLimiter struct {
	deny bool
}

func (l *fakeLimiter) AllowChat(context.Context, types.UserID) bool { return !l.deny }

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent map[types.UserID][]types.ServerMessage
}

func (b *recordingBroadcaster) ToClient(userID types.UserID, msg types.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sent == nil {
		b.sent = make(map[types.UserID][]types.ServerMessage)
	}
	b.sent[userID] = append(b.sent[userID], msg)
}

func (b *recordingBroadcaster) ToRoom(*types.Room)              {}
func (b *recordingBroadcaster) ToGame(*types.Game, string, any) {}

func newChatEnv(t *testing.T) (*Service, *fakeGames, *fakeLimiter, *recordingBroadcaster) {
	t.Helper()
	games := newFakeGames()
	limiter := &fakeLimiter{}
	bc := &recordingBroadcaster{}
	svc := New(games, limiter, bc)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	games.games["g1"] = &types.Game{
		ID:     "g1",
		Status: types.GameActive,
		Players: [2]types.GamePlayer{
			{UserID: "alice", Color: types.ColorWhite},
			{UserID: "bob", Color: types.ColorBlack},
		},
	}
	return svc, games, limiter, bc
}

func TestSendAppendsEntry(t *testing.T) {
	svc, games, _, _ := newChatEnv(t)

	require.NoError(t, svc.Send(context.Background(), "g1", "alice", "  good luck  "))

	require.Len(t, games.entries, 1)
	assert.Equal(t, "good luck", games.entries[0].Text, "whitespace is trimmed")
	assert.Equal(t, types.UserID("alice"), games.entries[0].AuthorUserID)
	assert.Equal(t, int64(1700000000000), games.entries[0].TimestampMs)
}

func TestSendValidation(t *testing.T) {
	svc, _, _, _ := newChatEnv(t)
	ctx := context.Background()

	err := svc.Send(ctx, "", "alice", "hi")
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))

	err = svc.Send(ctx, "g1", "alice", "   ")
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestSendLengthLimit(t *testing.T) {
	svc, games, _, _ := newChatEnv(t)
	ctx := context.Background()

	// Exactly at the limit passes; measured in runes, not bytes.
	require.NoError(t, svc.Send(ctx, "g1", "alice", strings.Repeat("é", maxMessageLen)))
	require.Len(t, games.entries, 1)

	err := svc.Send(ctx, "g1", "alice", strings.Repeat("a", maxMessageLen+1))
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestSendRateLimited(t *testing.T) {
	svc, games, limiter, _ := newChatEnv(t)
	limiter.deny = true

	err := svc.Send(context.Background(), "g1", "alice", "spam")
	require.Error(t, err)
	assert.Equal(t, types.KindRateLimit, types.KindOf(err))
	assert.Empty(t, games.entries)
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, _, _, _ := newChatEnv(t)

	err := svc.Send(context.Background(), "g1", "stranger", "hi")
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
}

func TestHistoryRepliesToParticipant(t *testing.T) {
	svc, games, _, bc := newChatEnv(t)
	games.games["g1"].Chat = []types.ChatEntry{
		{AuthorUserID: "alice", Text: "gl", TimestampMs: 1},
		{AuthorUserID: "bob", Text: "hf", TimestampMs: 2},
	}

	require.NoError(t, svc.History(context.Background(), "g1", "bob"))

	require.Len(t, bc.sent["bob"], 1)
	msg := bc.sent["bob"][0]
	assert.Equal(t, types.EventChatHistory, msg.Type)
	payload := msg.Payload.(types.ChatHistoryPayload)
	assert.Equal(t, types.GameID("g1"), payload.GameID)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "gl", payload.Messages[0].Text)
}

func TestHistoryServesTerminalGames(t *testing.T) {
	svc, games, _, bc := newChatEnv(t)
	games.games["g1"].Status = types.GameResigned
	games.games["g1"].Chat = []types.ChatEntry{{AuthorUserID: "alice", Text: "gg", TimestampMs: 3}}

	require.NoError(t, svc.History(context.Background(), "g1", "alice"))
	require.Len(t, bc.sent["alice"], 1)
}

func TestHistoryRejections(t *testing.T) {
	svc, _, _, _ := newChatEnv(t)
	ctx := context.Background()

	err := svc.History(ctx, "", "alice")
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))

	err = svc.History(ctx, "missing", "alice")
	require.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	err = svc.History(ctx, "g1", "stranger")
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
}

func TestTypingGoesToOpponentOnly(t *testing.T) {
	svc, _, _, bc := newChatEnv(t)

	require.NoError(t, svc.Typing(context.Background(), "g1", "alice"))

	require.Len(t, bc.sent["bob"], 1)
	msg := bc.sent["bob"][0]
	assert.Equal(t, types.EventTyping, msg.Type)
	assert.Equal(t, types.TypingPayload{GameID: "g1", UserID: "alice"}, msg.Payload)
	assert.Empty(t, bc.sent["alice"])
}

func TestTypingSilentNoOps(t *testing.T) {
	svc, games, _, bc := newChatEnv(t)
	ctx := context.Background()

	// Unknown game.
	require.NoError(t, svc.Typing(ctx, "missing", "alice"))
	// Non-participant.
	require.NoError(t, svc.Typing(ctx, "g1", "stranger"))
	// Terminal game.
	games.games["g1"].Status = types.GameResigned
	require.NoError(t, svc.Typing(ctx, "g1", "alice"))

	assert.Empty(t, bc.sent)
}
