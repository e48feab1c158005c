// Package room owns room lifecycle and matchmaking: create/join/leave,
// the guest and rated queues with their 60-second timeouts, disconnect
// grace, and rejoin. Rooms transition OPEN → ACTIVE → CLOSED; the ACTIVE
// transition hands off to the game service.
package room

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

const (
	// inviteCodeLen is the length of a private room's invite code.
	inviteCodeLen = 6
	// inviteCodeAlphabet is base-36 uppercase.
	inviteCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// inviteCodeAttempts bounds the uniqueness retry loop.
	inviteCodeAttempts = 5

	// eloWindow is the maximum rating distance for a rated match.
	eloWindow = 100
)

// GameOps is the slice of the game service the room service drives.
type GameOps interface {
	Start(ctx context.Context, roomID types.RoomID, tc types.TimeControl) (*types.Game, error)
	Abandon(ctx context.Context, id types.GameID, leaverID types.UserID) error
	EnsureScheduled(ctx context.Context, id types.GameID)
	Game(ctx context.Context, id types.GameID) (*types.Game, bool, error)
}

// Service manages rooms, queues, and player presence transitions.
type Service struct {
	hot     *store.Hot
	durable store.Durable
	bc      types.Broadcaster
	games   GameOps
	timers  *timerRegistry

	// Overridable in tests.
	queueTimeout    time.Duration
	disconnectGrace time.Duration
}

// New creates the room service with production timer durations.
func New(hot *store.Hot, durable store.Durable, bc types.Broadcaster, games GameOps) *Service {
	return &Service{
		hot:             hot,
		durable:         durable,
		bc:              bc,
		games:           games,
		timers:          newTimerRegistry(),
		queueTimeout:    60 * time.Second,
		disconnectGrace: 30 * time.Second,
	}
}

// SetTimeouts overrides the queue and grace durations. Test hook.
func (s *Service) SetTimeouts(queue, grace time.Duration) {
	s.queueTimeout = queue
	s.disconnectGrace = grace
}

// Close stops all pending timers.
func (s *Service) Close() {
	s.timers.stopAll()
}

// CreateRoom opens a room for the user. PRIVATE rooms get an invite code,
// either caller-supplied or generated; the code must be unique among OPEN
// private rooms. The creator's status moves to WAITING.
func (s *Service) CreateRoom(ctx context.Context, userID types.UserID, roomType types.RoomType, inviteCode string) (*types.Room, error) {
	if roomType != types.RoomPublic && roomType != types.RoomPrivate {
		return nil, types.ValidationError("unknown room type %q", roomType)
	}
	if err := s.requireNotBanned(ctx, userID); err != nil {
		return nil, err
	}

	room := &types.Room{
		ID:        types.RoomID(uuid.NewString()),
		Type:      roomType,
		Status:    types.RoomOpen,
		Players:   []types.RoomPlayer{{UserID: userID, Color: types.ColorUnset}},
		CreatedAt: time.Now().UTC(),
	}

	if roomType == types.RoomPrivate {
		code, err := s.claimInviteCode(ctx, inviteCode, room.ID)
		if err != nil {
			return nil, err
		}
		room.InviteCode = code
	}

	if err := s.durable.UpsertRoom(ctx, room); err != nil {
		return nil, types.TransientError("failed to persist room", err)
	}
	if err := s.hot.SetJSON(ctx, store.RoomKey(room.ID), room, 0); err != nil {
		return nil, types.TransientError("failed to publish room", err)
	}
	s.setStatus(ctx, userID, types.StatusWaiting, 0)

	logging.Info(ctx, "room created",
		zap.String("room_id", string(room.ID)),
		zap.String("type", string(roomType)))

	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventRoomCreated, Payload: room})
	return room, nil
}

// JoinRoom seats the user in an OPEN room, activates it, assigns colors by a
// fair shuffle, and starts the game.
func (s *Service) JoinRoom(ctx context.Context, userID types.UserID, roomID types.RoomID, inviteCode string) error {
	if err := s.requireNotBanned(ctx, userID); err != nil {
		return err
	}

	var room types.Room
	ok, err := s.hot.GetJSON(ctx, store.RoomKey(roomID), &room)
	if err != nil {
		return types.TransientError("failed to load room", err)
	}
	if !ok {
		return types.NotFoundError("room %s not found", roomID)
	}
	if room.Status != types.RoomOpen {
		return types.ConflictError("room %s is not open", roomID)
	}
	if room.Type == types.RoomPrivate && room.InviteCode != inviteCode {
		return types.UnauthorizedError("invalid invite code for room %s", roomID)
	}
	if room.HasPlayer(userID) {
		return types.ConflictError("user %s is already in room %s", userID, roomID)
	}
	if room.IsFull() {
		return types.ConflictError("room %s is full", roomID)
	}

	room.Players = append(room.Players, types.RoomPlayer{UserID: userID, Color: types.ColorUnset})
	room.Status = types.RoomActive
	assignColors(&room)

	userIDs := []types.UserID{room.Players[0].UserID, room.Players[1].UserID}
	if err := s.durable.ActivateRoomTx(ctx, &room, userIDs); err != nil {
		return types.TransientError("failed to activate room", err)
	}
	if err := s.hot.SetJSON(ctx, store.RoomKey(roomID), &room, 0); err != nil {
		return types.TransientError("failed to publish room", err)
	}
	if room.Type == types.RoomPrivate {
		// The code only guards OPEN rooms.
		if err := s.hot.Del(ctx, store.InviteCodeKey(room.InviteCode)); err != nil {
			logging.Warn(ctx, "failed to release invite code", zap.Error(err))
		}
	}
	for _, id := range userIDs {
		s.setStatus(ctx, id, types.StatusInGame, 0)
	}

	s.bc.ToRoom(&room)

	if _, err := s.games.Start(ctx, roomID, types.TimeControl{}); err != nil {
		return err
	}
	return nil
}

// LeaveRoom removes the user from an OPEN room before a game starts. An
// emptied room is deleted; the invite code is released.
func (s *Service) LeaveRoom(ctx context.Context, userID types.UserID, roomID types.RoomID) error {
	var room types.Room
	ok, err := s.hot.GetJSON(ctx, store.RoomKey(roomID), &room)
	if err != nil {
		return types.TransientError("failed to load room", err)
	}
	if !ok {
		return types.NotFoundError("room %s not found", roomID)
	}
	if room.Status != types.RoomOpen {
		return types.ConflictError("room %s is not open", roomID)
	}
	if !room.HasPlayer(userID) {
		return types.UnauthorizedError("user %s is not in room %s", userID, roomID)
	}

	remaining := room.Players[:0]
	for _, p := range room.Players {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}
	room.Players = remaining

	if len(room.Players) == 0 {
		room.Status = types.RoomClosed
		if err := s.durable.UpsertRoom(ctx, &room); err != nil {
			return types.TransientError("failed to persist room", err)
		}
		keys := []string{store.RoomKey(roomID)}
		if room.InviteCode != "" {
			keys = append(keys, store.InviteCodeKey(room.InviteCode))
		}
		if err := s.hot.Del(ctx, keys...); err != nil {
			logging.Warn(ctx, "failed to drop room keys", zap.Error(err))
		}
	} else {
		if err := s.durable.UpsertRoom(ctx, &room); err != nil {
			return types.TransientError("failed to persist room", err)
		}
		if err := s.hot.SetJSON(ctx, store.RoomKey(roomID), &room, 0); err != nil {
			return types.TransientError("failed to publish room", err)
		}
		s.bc.ToRoom(&room)
	}

	s.setStatus(ctx, userID, types.StatusOnline, 0)
	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventLeaveRoom, Payload: types.LeaveRoomPayload{RoomID: roomID}})
	return nil
}

// claimInviteCode reserves a unique code among OPEN private rooms, generating
// one when the caller did not supply it.
func (s *Service) claimInviteCode(ctx context.Context, code string, roomID types.RoomID) (string, error) {
	if code != "" {
		ok, err := s.hot.SetNX(ctx, store.InviteCodeKey(code), string(roomID), 0)
		if err != nil {
			return "", types.TransientError("failed to reserve invite code", err)
		}
		if !ok {
			return "", types.ConflictError("invite code %s is taken", code)
		}
		return code, nil
	}

	for range inviteCodeAttempts {
		code = randomInviteCode()
		ok, err := s.hot.SetNX(ctx, store.InviteCodeKey(code), string(roomID), 0)
		if err != nil {
			return "", types.TransientError("failed to reserve invite code", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", types.TransientError("failed to generate a unique invite code", nil)
}

func randomInviteCode() string {
	buf := make([]byte, inviteCodeLen)
	for i := range buf {
		buf[i] = inviteCodeAlphabet[rand.IntN(len(inviteCodeAlphabet))]
	}
	return string(buf)
}

// assignColors gives the two seats one color each, uniformly at random.
func assignColors(room *types.Room) {
	first := types.ColorWhite
	if rand.IntN(2) == 1 {
		first = types.ColorBlack
	}
	room.Players[0].Color = first
	room.Players[1].Color = first.Opposite()
}

func (s *Service) requireNotBanned(ctx context.Context, userID types.UserID) error {
	user, err := s.durable.GetUser(ctx, userID)
	if err != nil {
		return types.TransientError("failed to load user", err)
	}
	if user.Banned {
		return types.UnauthorizedError("user %s is banned", userID)
	}
	return nil
}

func (s *Service) setStatus(ctx context.Context, userID types.UserID, status types.UserStatus, ttl time.Duration) {
	if userID == types.BotUserID {
		return
	}
	if err := s.hot.SetString(ctx, store.PlayerStatusKey(userID), string(status), ttl); err != nil {
		logging.Warn(ctx, "failed to set player status",
			zap.String("user_id", string(userID)),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
