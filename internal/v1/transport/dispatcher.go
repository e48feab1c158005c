package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/metrics"
	"github.com/gambitlive/backend/internal/v1/rules"
	"github.com/gambitlive/backend/internal/v1/types"
)

// RoomOps is the room service surface the dispatcher routes to.
type RoomOps interface {
	CreateRoom(ctx context.Context, userID types.UserID, roomType types.RoomType, inviteCode string) (*types.Room, error)
	JoinRoom(ctx context.Context, userID types.UserID, roomID types.RoomID, inviteCode string) error
	LeaveRoom(ctx context.Context, userID types.UserID, roomID types.RoomID) error
	JoinQueue(ctx context.Context, userID types.UserID, isGuest bool) error
	LeaveQueue(ctx context.Context, userID types.UserID) error
	HandleRejoin(ctx context.Context, userID types.UserID, gameID types.GameID) error
}

// GameOps is the game service surface the dispatcher routes to.
type GameOps interface {
	MakeMove(ctx context.Context, id types.GameID, playerID types.UserID, mv rules.MoveInput) error
	GetLegalMoves(ctx context.Context, id types.GameID, playerID types.UserID, square string) error
	Resign(ctx context.Context, id types.GameID, playerID types.UserID) error
	OfferDraw(ctx context.Context, id types.GameID, playerID types.UserID) error
	AcceptDraw(ctx context.Context, id types.GameID, playerID types.UserID) error
	DeclineDraw(ctx context.Context, id types.GameID, playerID types.UserID) error
	Load(ctx context.Context, id types.GameID, userID types.UserID) error
}

// ChatOps is the chat service surface the dispatcher routes to.
type ChatOps interface {
	Send(ctx context.Context, id types.GameID, authorID types.UserID, text string) error
	Typing(ctx context.Context, id types.GameID, userID types.UserID) error
	History(ctx context.Context, id types.GameID, userID types.UserID) error
}

// MessageLimiter gates inbound frame frequency per user.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID types.UserID) bool
}

// Dispatcher parses inbound frames and routes them by message type. Handler
// errors map to wire events by error kind; rate-limit breaches close the
// socket.
type Dispatcher struct {
	rooms   RoomOps
	games   GameOps
	chat    ChatOps
	limiter MessageLimiter
}

// NewDispatcher wires the routing table. limiter may be nil in tests.
func NewDispatcher(rooms RoomOps, games GameOps, chat ChatOps, limiter MessageLimiter) *Dispatcher {
	return &Dispatcher{rooms: rooms, games: games, chat: chat, limiter: limiter}
}

// Dispatch handles one raw inbound frame from client.
func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, data []byte) {
	if d.limiter != nil && !d.limiter.AllowMessage(ctx, client.UserID) {
		metrics.MessagesRouted.WithLabelValues("", "rate_limited").Inc()
		client.CloseWithCode(types.CloseRateLimitExceeded, "message rate limit exceeded")
		return
	}

	// Protocol garbage gets an ERROR back; only auth and rate-limit
	// failures cost the connection.
	var msg types.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		metrics.MessagesRouted.WithLabelValues("", "malformed").Inc()
		client.Send(types.ServerMessage{
			Type:    types.EventError,
			Payload: types.ErrorPayload{Message: "malformed message"},
		})
		return
	}

	start := time.Now()
	err := d.route(ctx, client, &msg)
	metrics.MessageProcessingDuration.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.MessagesRouted.WithLabelValues(msg.Type, "error").Inc()
		d.reportError(ctx, client, msg.Type, err)
		return
	}
	metrics.MessagesRouted.WithLabelValues(msg.Type, "ok").Inc()
}

func (d *Dispatcher) route(ctx context.Context, client *Client, msg *types.ClientMessage) error {
	userID := client.UserID

	switch msg.Type {
	case types.MsgCreateRoom:
		var p types.CreateRoomPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		_, err := d.rooms.CreateRoom(ctx, userID, p.Type, p.InviteCode)
		return err

	case types.MsgJoinRoom:
		var p types.JoinRoomPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.rooms.JoinRoom(ctx, userID, p.RoomID, p.InviteCode)

	case types.MsgLeaveRoom:
		var p types.LeaveRoomPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.rooms.LeaveRoom(ctx, userID, p.RoomID)

	case types.MsgJoinQueue:
		var p types.JoinQueuePayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.rooms.JoinQueue(ctx, userID, p.IsGuest)

	case types.MsgLeaveQueue:
		return d.rooms.LeaveQueue(ctx, userID)

	case types.MsgRequestRejoin:
		var p types.RejoinPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.rooms.HandleRejoin(ctx, userID, p.GameID)

	case types.MsgMakeMove:
		var p types.MovePayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.MakeMove(ctx, p.GameID, userID, rules.MoveInput{
			From: p.From, To: p.To, Promotion: p.Promotion,
		})

	case types.MsgGetLegalMoves:
		var p types.LegalMovesPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.GetLegalMoves(ctx, p.GameID, userID, p.Square)

	case types.MsgResign:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.Resign(ctx, p.GameID, userID)

	case types.MsgOfferDraw:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.OfferDraw(ctx, p.GameID, userID)

	case types.MsgAcceptDraw:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.AcceptDraw(ctx, p.GameID, userID)

	case types.MsgDeclineDraw:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.DeclineDraw(ctx, p.GameID, userID)

	case types.MsgChatMessage:
		var p types.ChatPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.chat.Send(ctx, p.GameID, userID, p.Text)

	case types.MsgTyping:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.chat.Typing(ctx, p.GameID, userID)

	case types.MsgGetChatHistory:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.chat.History(ctx, p.GameID, userID)

	case types.MsgLoadGame:
		var p types.GameRefPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return d.games.Load(ctx, p.GameID, userID)

	default:
		return types.ValidationError("unknown message type %q", msg.Type)
	}
}

// reportError converts a handler error into a wire message to the caller.
// Transient failures hide their internals behind a generic message.
func (d *Dispatcher) reportError(ctx context.Context, client *Client, msgType string, err error) {
	event := types.EventOf(err)
	if event == "" {
		switch types.KindOf(err) {
		case types.KindUnauthorized:
			event = types.EventUnauthorized
		default:
			event = types.EventError
		}
	}

	message := err.Error()
	if types.KindOf(err) == types.KindTransient || types.KindOf(err) == types.KindFatal {
		logging.Error(ctx, "message handler failed",
			zap.String("type", msgType),
			zap.String("user_id", string(client.UserID)),
			zap.Error(err))
		message = "internal error"
	} else {
		logging.Info(ctx, "message rejected",
			zap.String("type", msgType),
			zap.String("user_id", string(client.UserID)),
			zap.String("reason", err.Error()))
	}

	client.Send(types.ServerMessage{
		Type:    event,
		Payload: types.ErrorPayload{Message: message},
	})
}

func unmarshalPayload(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return types.ValidationError("missing payload")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return types.ValidationError("malformed payload: %v", err)
	}
	return nil
}
