package room

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/metrics"
	"github.com/gambitlive/backend/internal/v1/store"
	"github.com/gambitlive/backend/internal/v1/types"
)

// JoinQueue enqueues the user (guest FIFO or rated skill-windowed), starts
// the 60-second timeout, and attempts a match immediately.
func (s *Service) JoinQueue(ctx context.Context, userID types.UserID, isGuest bool) error {
	if err := s.requireNotBanned(ctx, userID); err != nil {
		return err
	}

	if _, queued, err := s.hot.GetString(ctx, store.PlayerQueueKey(userID)); err != nil {
		return types.TransientError("failed to check queue membership", err)
	} else if queued {
		return types.ConflictError("user %s is already queued", userID)
	}

	queue := store.GuestQueueKey
	if !isGuest {
		queue = store.RatedQueueKey
		user, err := s.durable.GetUser(ctx, userID)
		if err != nil {
			return types.TransientError("failed to load user", err)
		}
		// Snapshot the rating so matching never round-trips to the durable
		// store per candidate.
		if err := s.hot.SetString(ctx, store.PlayerQueueEloKey(userID), strconv.Itoa(user.Elo), 0); err != nil {
			return types.TransientError("failed to record queue rating", err)
		}
	}

	if err := s.hot.RPush(ctx, queue, string(userID)); err != nil {
		return types.TransientError("failed to enqueue", err)
	}
	if err := s.hot.SetString(ctx, store.PlayerQueueKey(userID), queue, 0); err != nil {
		return types.TransientError("failed to mark queue membership", err)
	}
	s.setStatus(ctx, userID, types.StatusWaiting, 0)

	timeoutID := uuid.NewString()
	if err := s.hot.SetString(ctx, store.PlayerQueueTimeoutKey(userID), timeoutID, 0); err != nil {
		logging.Warn(ctx, "failed to record queue timeout marker", zap.Error(err))
	}
	s.timers.scheduleQueue(userID, s.queueTimeout, func() {
		s.queueTimedOut(context.Background(), userID)
	})

	metrics.QueueDepth.WithLabelValues(queue).Inc()
	logging.Info(ctx, "player queued",
		zap.String("user_id", string(userID)),
		zap.String("queue", queue))

	if queue == store.GuestQueueKey {
		return s.tryMatchGuests(ctx)
	}
	return s.tryMatchRated(ctx, userID)
}

// LeaveQueue removes the user from both queues and cancels the timeout.
func (s *Service) LeaveQueue(ctx context.Context, userID types.UserID) error {
	if err := s.dequeue(ctx, userID); err != nil {
		return err
	}
	s.setStatus(ctx, userID, types.StatusOnline, 0)
	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventQueueLeft})
	return nil
}

// dequeue pulls the user out of whichever queue holds them and clears the
// bookkeeping keys and timer. Safe to call for users who are not queued.
func (s *Service) dequeue(ctx context.Context, userID types.UserID) error {
	s.timers.cancelQueue(userID)

	queue, queued, err := s.hot.GetString(ctx, store.PlayerQueueKey(userID))
	if err != nil {
		return types.TransientError("failed to check queue membership", err)
	}
	if queued {
		removed, err := s.hot.LRem(ctx, queue, string(userID))
		if err != nil {
			return types.TransientError("failed to leave queue", err)
		}
		if removed > 0 {
			metrics.QueueDepth.WithLabelValues(queue).Dec()
		}
	}

	if err := s.hot.Del(ctx,
		store.PlayerQueueKey(userID),
		store.PlayerQueueTimeoutKey(userID),
		store.PlayerQueueEloKey(userID)); err != nil {
		logging.Warn(ctx, "failed to clear queue keys", zap.String("user_id", string(userID)), zap.Error(err))
	}
	return nil
}

// queueTimedOut fires when the 60-second timer elapses with the user still
// queued.
func (s *Service) queueTimedOut(ctx context.Context, userID types.UserID) {
	_, queued, err := s.hot.GetString(ctx, store.PlayerQueueKey(userID))
	if err != nil || !queued {
		return
	}
	if err := s.dequeue(ctx, userID); err != nil {
		logging.Error(ctx, "queue timeout cleanup failed", zap.String("user_id", string(userID)), zap.Error(err))
		return
	}
	s.setStatus(ctx, userID, types.StatusOnline, 0)
	s.bc.ToClient(userID, types.ServerMessage{Type: types.EventQueueTimeout})
	logging.Info(ctx, "queue wait timed out", zap.String("user_id", string(userID)))
}

// tryMatchGuests pops the two oldest guests atomically. A lone guest goes
// back to the head so their priority survives.
func (s *Service) tryMatchGuests(ctx context.Context) error {
	ids, err := s.hot.LPopCount(ctx, store.GuestQueueKey, 2)
	if err != nil {
		return types.TransientError("failed to pop guest queue", err)
	}
	if len(ids) < 2 {
		if len(ids) == 1 {
			if err := s.hot.LPush(ctx, store.GuestQueueKey, ids[0]); err != nil {
				return types.TransientError("failed to restore guest queue", err)
			}
		}
		return nil
	}

	a, b := types.UserID(ids[0]), types.UserID(ids[1])
	metrics.QueueDepth.WithLabelValues(store.GuestQueueKey).Sub(2)
	if err := s.startMatch(ctx, a, b); err != nil {
		// Head-restore in reverse so the original order comes back.
		if perr := s.hot.LPush(ctx, store.GuestQueueKey, string(b), string(a)); perr != nil {
			logging.Error(ctx, "failed to restore guest pair", zap.Error(perr))
		}
		metrics.QueueDepth.WithLabelValues(store.GuestQueueKey).Add(2)
		return err
	}
	return nil
}

// tryMatchRated scans the rated queue oldest-first for the earliest opponent
// within eloWindow of the requester.
func (s *Service) tryMatchRated(ctx context.Context, userID types.UserID) error {
	entries, err := s.hot.LRange(ctx, store.RatedQueueKey)
	if err != nil {
		return types.TransientError("failed to read rated queue", err)
	}

	myElo, err := s.queuedElo(ctx, userID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		candidate := types.UserID(entry)
		if candidate == userID {
			continue
		}
		elo, err := s.queuedElo(ctx, candidate)
		if err != nil {
			logging.Warn(ctx, "skipping rated candidate without rating snapshot",
				zap.String("user_id", string(candidate)), zap.Error(err))
			continue
		}
		diff := myElo - elo
		if diff < 0 {
			diff = -diff
		}
		if diff > eloWindow {
			continue
		}

		if _, err := s.hot.LRem(ctx, store.RatedQueueKey, string(candidate)); err != nil {
			return types.TransientError("failed to remove matched player", err)
		}
		if _, err := s.hot.LRem(ctx, store.RatedQueueKey, string(userID)); err != nil {
			return types.TransientError("failed to remove matched player", err)
		}
		metrics.QueueDepth.WithLabelValues(store.RatedQueueKey).Sub(2)

		// Candidate queued first; keep them first in the pairing.
		if err := s.startMatch(ctx, candidate, userID); err != nil {
			if perr := s.hot.LPush(ctx, store.RatedQueueKey, string(userID), string(candidate)); perr != nil {
				logging.Error(ctx, "failed to restore rated pair", zap.Error(perr))
			}
			metrics.QueueDepth.WithLabelValues(store.RatedQueueKey).Add(2)
			return err
		}
		return nil
	}
	return nil
}

func (s *Service) queuedElo(ctx context.Context, userID types.UserID) (int, error) {
	raw, ok, err := s.hot.GetString(ctx, store.PlayerQueueEloKey(userID))
	if err != nil {
		return 0, types.TransientError("failed to read queue rating", err)
	}
	if !ok {
		return 0, types.NotFoundError("no rating snapshot for user %s", userID)
	}
	elo, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.TransientError("corrupt rating snapshot", err)
	}
	return elo, nil
}

// startMatch creates an ACTIVE room for the pair, assigns colors, and starts
// the game. Queue bookkeeping for both players is cleared first so a failed
// start can restore them cleanly.
func (s *Service) startMatch(ctx context.Context, a, b types.UserID) error {
	for _, id := range []types.UserID{a, b} {
		s.timers.cancelQueue(id)
		if err := s.hot.Del(ctx,
			store.PlayerQueueKey(id),
			store.PlayerQueueTimeoutKey(id),
			store.PlayerQueueEloKey(id)); err != nil {
			logging.Warn(ctx, "failed to clear queue keys", zap.String("user_id", string(id)), zap.Error(err))
		}
	}

	room := &types.Room{
		ID:     types.RoomID(uuid.NewString()),
		Type:   types.RoomPublic,
		Status: types.RoomActive,
		Players: []types.RoomPlayer{
			{UserID: a, Color: types.ColorUnset},
			{UserID: b, Color: types.ColorUnset},
		},
		CreatedAt: time.Now().UTC(),
	}
	assignColors(room)

	if err := s.durable.ActivateRoomTx(ctx, room, []types.UserID{a, b}); err != nil {
		return types.TransientError("failed to activate matched room", err)
	}
	if err := s.hot.SetJSON(ctx, store.RoomKey(room.ID), room, 0); err != nil {
		return types.TransientError("failed to publish matched room", err)
	}
	for _, id := range []types.UserID{a, b} {
		s.setStatus(ctx, id, types.StatusInGame, 0)
	}

	logging.Info(ctx, "players matched",
		zap.String("room_id", string(room.ID)),
		zap.String("player_a", string(a)),
		zap.String("player_b", string(b)))

	s.bc.ToRoom(room)

	_, err := s.games.Start(ctx, room.ID, types.TimeControl{})
	return err
}
