package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/types"
)

// --- recording fakes ---

type call struct {
	name string
	args []any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) record(name string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	return r.err
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.name
	}
	return names
}

func (r *recorder) last() (call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return call{}, false
	}
	return r.calls[len(r.calls)-1], true
}

type fakeRoomOps struct{ recorder }

func (f *fakeRoomOps) CreateRoom(_ context.Context, userID types.UserID, roomType types.RoomType, code string) (*types.Room, error) {
	return &types.Room{}, f.record("CreateRoom", userID, roomType, code)
}

func (f *fakeRoomOps) JoinRoom(_ context.Context, userID types.UserID, roomID types.RoomID, code string) error {
	return f.record("JoinRoom", userID, roomID, code)
}

func (f *fakeRoomOps) LeaveRoom(_ context.Context, userID types.UserID, roomID types.RoomID) error {
	return f.record("LeaveRoom", userID, roomID)
}

func (f *fakeRoomOps) JoinQueue(_ context.Context, userID types.UserID, isGuest bool) error {
	return f.record("JoinQueue", userID, isGuest)
}

func (f *fakeRoomOps) LeaveQueue(_ context.Context, userID types.UserID) error {
	return f.record("LeaveQueue", userID)
}

func (f *fakeRoomOps) HandleRejoin(_ context.Context, userID types.UserID, gameID types.GameID) error {
	return f.record("HandleRejoin", userID, gameID)
}

type fakeGameOps struct{ recorder }

func (f *fakeGameOps) MakeMove(_ context.Context, id types.GameID, playerID types.UserID, mv rules.MoveInput) error {
	return f.record("MakeMove", id, playerID, mv)
}

func (f *fakeGameOps) GetLegalMoves(_ context.Context, id types.GameID, playerID types.UserID, square string) error {
	return f.record("GetLegalMoves", id, playerID, square)
}

func (f *fakeGameOps) Resign(_ context.Context, id types.GameID, playerID types.UserID) error {
	return f.record("Resign", id, playerID)
}

func (f *fakeGameOps) OfferDraw(_ context.Context, id types.GameID, playerID types.UserID) error {
	return f.record("OfferDraw", id, playerID)
}

func (f *fakeGameOps) AcceptDraw(_ context.Context, id types.GameID, playerID types.UserID) error {
	return f.record("AcceptDraw", id, playerID)
}

func (f *fakeGameOps) DeclineDraw(_ context.Context, id types.GameID, playerID types.UserID) error {
	return f.record("DeclineDraw", id, playerID)
}

func (f *fakeGameOps) Load(_ context.Context, id types.GameID, userID types.UserID) error {
	return f.record("Load", id, userID)
}

type fakeChatOps struct{ recorder }

func (f *fakeChatOps) Send(_ context.Context, id types.GameID, authorID types.UserID, text string) error {
	return f.record("Send", id, authorID, text)
}

func (f *fakeChatOps) Typing(_ context.Context, id types.GameID, userID types.UserID) error {
	return f.record("Typing", id, userID)
}

func (f *fakeChatOps) History(_ context.Context, id types.GameID, userID types.UserID) error {
	return f.record("History", id, userID)
}

type fakeMessageLimiter struct{ deny bool }

func (f *fakeMessageLimiter) AllowMessage(context.Context, types.UserID) bool { return !f.deny }

// --- harness ---

type dispatchEnv struct {
	d       *Dispatcher
	client  *Client
	conn    *fakeConn
	rooms   *fakeRoomOps
	games   *fakeGameOps
	chat    *fakeChatOps
	limiter *fakeMessageLimiter
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	rooms := &fakeRoomOps{}
	games := &fakeGameOps{}
	chat := &fakeChatOps{}
	limiter := &fakeMessageLimiter{}
	d := NewDispatcher(rooms, games, chat, limiter)

	registry := NewRegistry(nil, nil, false)
	conn := newFakeConn()
	client := newClient(conn, registry, "u1", "User One")

	return &dispatchEnv{d: d, client: client, conn: conn, rooms: rooms, games: games, chat: chat, limiter: limiter}
}

func (e *dispatchEnv) dispatch(t *testing.T, msgType string, payload string) {
	t.Helper()
	frame := `{"type":"` + msgType + `"`
	if payload != "" {
		frame += `,"payload":` + payload
	}
	frame += `}`
	e.d.Dispatch(context.Background(), e.client, []byte(frame))
}

// queuedMessages drains the client's outbound buffer.
func (e *dispatchEnv) queuedMessages(t *testing.T) []types.ServerMessage {
	t.Helper()
	var out []types.ServerMessage
	for {
		select {
		case data := <-e.client.send:
			var msg types.ServerMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

// --- routing ---

func TestDispatchRoutesByType(t *testing.T) {
	tests := []struct {
		msgType  string
		payload  string
		target   func(e *dispatchEnv) *recorder
		wantCall string
	}{
		{types.MsgCreateRoom, `{"type":"PUBLIC"}`, func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "CreateRoom"},
		{types.MsgJoinRoom, `{"roomId":"r1"}`, func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "JoinRoom"},
		{types.MsgLeaveRoom, `{"roomId":"r1"}`, func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "LeaveRoom"},
		{types.MsgJoinQueue, `{"isGuest":true}`, func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "JoinQueue"},
		{types.MsgLeaveQueue, "", func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "LeaveQueue"},
		{types.MsgRequestRejoin, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.rooms.recorder }, "HandleRejoin"},
		{types.MsgMakeMove, `{"gameId":"g1","from":"e2","to":"e4"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "MakeMove"},
		{types.MsgGetLegalMoves, `{"gameId":"g1","square":"e2"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "GetLegalMoves"},
		{types.MsgResign, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "Resign"},
		{types.MsgOfferDraw, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "OfferDraw"},
		{types.MsgAcceptDraw, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "AcceptDraw"},
		{types.MsgDeclineDraw, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "DeclineDraw"},
		{types.MsgChatMessage, `{"gameId":"g1","text":"hi"}`, func(e *dispatchEnv) *recorder { return &e.chat.recorder }, "Send"},
		{types.MsgTyping, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.chat.recorder }, "Typing"},
		{types.MsgGetChatHistory, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.chat.recorder }, "History"},
		{types.MsgLoadGame, `{"gameId":"g1"}`, func(e *dispatchEnv) *recorder { return &e.games.recorder }, "Load"},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			e := newDispatchEnv(t)
			e.dispatch(t, tt.msgType, tt.payload)
			got, ok := tt.target(e).last()
			require.True(t, ok, "no call recorded")
			assert.Equal(t, tt.wantCall, got.name)
		})
	}
}

func TestDispatchMakeMoveArguments(t *testing.T) {
	e := newDispatchEnv(t)
	e.dispatch(t, types.MsgMakeMove, `{"gameId":"g1","from":"a7","to":"a8","promotion":"q"}`)

	got, ok := e.games.last()
	require.True(t, ok)
	assert.Equal(t, types.GameID("g1"), got.args[0])
	assert.Equal(t, types.UserID("u1"), got.args[1])
	assert.Equal(t, rules.MoveInput{From: "a7", To: "a8", Promotion: "q"}, got.args[2])
}

// --- protocol violations ---

func TestDispatchMalformedFrameIsError(t *testing.T) {
	e := newDispatchEnv(t)

	e.d.Dispatch(context.Background(), e.client, []byte("{not json"))

	msgs := e.queuedMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.EventError, msgs[0].Type)

	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	assert.False(t, e.client.closed, "protocol garbage never costs the connection")
}

func TestDispatchMissingTypeIsError(t *testing.T) {
	e := newDispatchEnv(t)

	e.d.Dispatch(context.Background(), e.client, []byte(`{"payload":{}}`))

	msgs := e.queuedMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.EventError, msgs[0].Type)

	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	assert.False(t, e.client.closed)
}

func TestDispatchRateLimitClosesSocket(t *testing.T) {
	e := newDispatchEnv(t)
	e.limiter.deny = true

	e.dispatch(t, types.MsgLeaveQueue, "")

	e.client.mu.Lock()
	closed, code := e.client.closed, e.client.closeCode
	e.client.mu.Unlock()
	assert.True(t, closed)
	assert.Equal(t, types.CloseRateLimitExceeded, code)
	assert.Empty(t, e.rooms.names(), "no handler runs after the breach")
}

func TestDispatchMissingPayloadIsError(t *testing.T) {
	e := newDispatchEnv(t)

	e.dispatch(t, types.MsgMakeMove, "")

	msgs := e.queuedMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.EventError, msgs[0].Type)
	assert.Empty(t, e.games.names())
}

func TestDispatchUnknownTypeIsError(t *testing.T) {
	e := newDispatchEnv(t)

	e.dispatch(t, "TELEPORT", `{}`)

	msgs := e.queuedMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.EventError, msgs[0].Type)
}

// --- error mapping ---

func TestDispatchErrorEvents(t *testing.T) {
	t.Run("unauthorized maps to UNAUTHORIZED", func(t *testing.T) {
		e := newDispatchEnv(t)
		e.games.err = types.UnauthorizedError("not your game")

		e.dispatch(t, types.MsgResign, `{"gameId":"g1"}`)

		msgs := e.queuedMessages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.EventUnauthorized, msgs[0].Type)
	})

	t.Run("event override wins", func(t *testing.T) {
		e := newDispatchEnv(t)
		e.games.err = types.NotFoundError("gone").WithEvent(types.EventGameNotFound)

		e.dispatch(t, types.MsgLoadGame, `{"gameId":"g1"}`)

		msgs := e.queuedMessages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.EventGameNotFound, msgs[0].Type)
	})

	t.Run("transient failures are masked", func(t *testing.T) {
		e := newDispatchEnv(t)
		e.games.err = types.TransientError("redis timeout on shard 3", nil)

		e.dispatch(t, types.MsgResign, `{"gameId":"g1"}`)

		msgs := e.queuedMessages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.EventError, msgs[0].Type)

		payload, err := json.Marshal(msgs[0].Payload)
		require.NoError(t, err)
		var ep types.ErrorPayload
		require.NoError(t, json.Unmarshal(payload, &ep))
		assert.Equal(t, "internal error", ep.Message)
	})

	t.Run("conflict keeps its message", func(t *testing.T) {
		e := newDispatchEnv(t)
		e.games.err = types.ConflictError("not your turn")

		e.dispatch(t, types.MsgMakeMove, `{"gameId":"g1","from":"e2","to":"e4"}`)

		msgs := e.queuedMessages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.EventError, msgs[0].Type)

		payload, err := json.Marshal(msgs[0].Payload)
		require.NoError(t, err)
		var ep types.ErrorPayload
		require.NoError(t, json.Unmarshal(payload, &ep))
		assert.Equal(t, "not your turn", ep.Message)
	})
}
