// Package analytics publishes game lifecycle events to Kafka for downstream
// processing. Emission is asynchronous and best-effort; the game path never
// blocks on the broker.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/types"
)

// Topic is the stream all game events land on.
const Topic = "chess.game-events"

type event struct {
	Event       string            `json:"event"`
	GameID      types.GameID      `json:"gameId"`
	RoomID      types.RoomID      `json:"roomId"`
	Players     [2]types.UserID   `json:"players"`
	TimeControl types.TimeControl `json:"timeControl"`
	Status      types.GameStatus  `json:"status,omitempty"`
	Winner      types.UserID      `json:"winner,omitempty"`
	MoveSAN     string            `json:"moveSan,omitempty"`
	MoveNumber  int               `json:"moveNumber,omitempty"`
	Plies       int               `json:"plies,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// Producer writes game events keyed by game id so a partition preserves one
// game's order.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates the Kafka producer. Completion errors are logged, not
// surfaced.
func NewProducer(brokers []string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logging.Error(context.Background(), "failed to publish analytics batch",
					zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return &Producer{writer: w}
}

// GameStarted emits one event when a game is created.
func (p *Producer) GameStarted(ctx context.Context, game *types.Game) {
	p.emit(ctx, event{
		Event:       "game_started",
		GameID:      game.ID,
		RoomID:      game.RoomID,
		Players:     playerIDs(game),
		TimeControl: game.TimeControl,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// MoveMade emits one event per accepted move.
func (p *Producer) MoveMade(ctx context.Context, game *types.Game, move types.Move, moveNumber int) {
	p.emit(ctx, event{
		Event:       "move_made",
		GameID:      game.ID,
		RoomID:      game.RoomID,
		Players:     playerIDs(game),
		TimeControl: game.TimeControl,
		MoveSAN:     move.SAN,
		MoveNumber:  moveNumber,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// GameCompleted emits one event on any terminal transition.
func (p *Producer) GameCompleted(ctx context.Context, game *types.Game) {
	p.emit(ctx, event{
		Event:       "game_completed",
		GameID:      game.ID,
		RoomID:      game.RoomID,
		Players:     playerIDs(game),
		TimeControl: game.TimeControl,
		Status:      game.Status,
		Winner:      game.WinnerUserID,
		Plies:       len(game.MoveHistory),
		Timestamp:   time.Now().UnixMilli(),
	})
}

func (p *Producer) emit(ctx context.Context, ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error(ctx, "failed to marshal analytics event",
			zap.String("event", ev.Event), zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.GameID),
		Value: data,
	})
	if err != nil {
		logging.Error(ctx, "failed to enqueue analytics event",
			zap.String("event", ev.Event), zap.Error(err))
	}
}

// Close flushes and shuts down the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func playerIDs(game *types.Game) [2]types.UserID {
	return [2]types.UserID{game.Players[0].UserID, game.Players[1].UserID}
}
