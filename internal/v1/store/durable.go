package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gambitlive/backend/internal/v1/types"
)

// Transaction budget: a caller waits at most txMaxWait for a pooled
// connection and the whole transaction is cancelled after txTimeout.
const (
	txMaxWait = 10 * time.Second
	txTimeout = 20 * time.Second
)

// Durable is the record-oriented authoritative store. It is written only at
// lifecycle boundaries (room/game creation, terminal transitions) and read
// through for user projections.
type Durable interface {
	GetUser(ctx context.Context, id types.UserID) (*types.User, error)
	UpsertUser(ctx context.Context, user *types.User) error
	SetUserBanned(ctx context.Context, id types.UserID, banned bool) error

	UpsertRoom(ctx context.Context, room *types.Room) error
	UpsertGame(ctx context.Context, game *types.Game) error
	FindGame(ctx context.Context, id types.GameID) (*types.Game, error)

	// ActivateRoomTx persists the second join as one transaction: the room
	// flips to ACTIVE and both users' status to IN_GAME.
	ActivateRoomTx(ctx context.Context, room *types.Room, userIDs []types.UserID) error

	// FinishGameTx persists a terminal transition as one transaction: the
	// game row, the room set to CLOSED, and both users' status to ONLINE.
	FinishGameTx(ctx context.Context, game *types.Game) error

	Ping(ctx context.Context) error
}

// ErrRecordNotFound is returned by lookups that find nothing.
var ErrRecordNotFound = errors.New("record not found")

// --- gorm models ---

// UserRecord is the durable user row.
type UserRecord struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string
	Provider    string
	Status      string
	Elo         int
	Banned      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserRecord) TableName() string { return "users" }

// RoomRecord is the durable room row.
type RoomRecord struct {
	ID         string `gorm:"primaryKey"`
	Type       string
	Status     string
	InviteCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (RoomRecord) TableName() string { return "rooms" }

// GameRecord is the durable game row. Move history and chat are stored as
// JSON documents; per-seat data lives in GamePlayerRecord.
type GameRecord struct {
	ID           string `gorm:"primaryKey"`
	RoomID       string `gorm:"index"`
	Position     string
	Status       string
	WinnerUserID string
	InitialSec   int
	IncrementSec int
	WhiteClock   int
	BlackClock   int
	MoveHistory  string `gorm:"type:jsonb"`
	Chat         string `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (GameRecord) TableName() string { return "games" }

// GamePlayerRecord is one seat of a durable game.
type GamePlayerRecord struct {
	GameID      string `gorm:"primaryKey"`
	UserID      string `gorm:"primaryKey;index"`
	Color       string
	DisplayName string
}

func (GamePlayerRecord) TableName() string { return "game_players" }

// DB implements Durable on a gorm/postgres handle.
type DB struct {
	db *gorm.DB
}

// NewDB opens the durable store and migrates the schema.
func NewDB(databaseURL string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := gdb.AutoMigrate(&UserRecord{}, &RoomRecord{}, &GameRecord{}, &GamePlayerRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: gdb}, nil
}

// NewDBWithGorm wraps an existing gorm handle. Tests use this with sqlite or
// a transaction-scoped handle.
func NewDBWithGorm(gdb *gorm.DB) *DB {
	return &DB{db: gdb}
}

func (d *DB) GetUser(ctx context.Context, id types.UserID) (*types.User, error) {
	var rec UserRecord
	err := d.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return userFromRecord(&rec), nil
}

func (d *DB) UpsertUser(ctx context.Context, user *types.User) error {
	rec := recordFromUser(user)
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

func (d *DB) SetUserBanned(ctx context.Context, id types.UserID, banned bool) error {
	err := d.db.WithContext(ctx).Model(&UserRecord{}).
		Where("id = ?", string(id)).
		Update("banned", banned).Error
	if err != nil {
		return fmt.Errorf("failed to set banned for user %s: %w", id, err)
	}
	return nil
}

func (d *DB) UpsertRoom(ctx context.Context, room *types.Room) error {
	rec := &RoomRecord{
		ID:         string(room.ID),
		Type:       string(room.Type),
		Status:     string(room.Status),
		InviteCode: room.InviteCode,
		CreatedAt:  room.CreatedAt,
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert room %s: %w", room.ID, err)
	}
	return nil
}

func (d *DB) UpsertGame(ctx context.Context, game *types.Game) error {
	return d.upsertGame(d.db.WithContext(ctx), game)
}

func (d *DB) upsertGame(tx *gorm.DB, game *types.Game) error {
	rec, err := recordFromGame(game)
	if err != nil {
		return err
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to upsert game %s: %w", game.ID, err)
	}

	for _, p := range game.Players {
		seat := &GamePlayerRecord{
			GameID:      string(game.ID),
			UserID:      string(p.UserID),
			Color:       string(p.Color),
			DisplayName: p.DisplayName,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}},
			UpdateAll: true,
		}).Create(seat).Error; err != nil {
			return fmt.Errorf("failed to upsert seat %s/%s: %w", game.ID, p.UserID, err)
		}
	}
	return nil
}

func (d *DB) FindGame(ctx context.Context, id types.GameID) (*types.Game, error) {
	var rec GameRecord
	err := d.db.WithContext(ctx).First(&rec, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", id, err)
	}

	var seats []GamePlayerRecord
	if err := d.db.WithContext(ctx).Find(&seats, "game_id = ?", string(id)).Error; err != nil {
		return nil, fmt.Errorf("failed to load seats for game %s: %w", id, err)
	}

	return gameFromRecord(&rec, seats)
}

func (d *DB) ActivateRoomTx(ctx context.Context, room *types.Room, userIDs []types.UserID) error {
	return d.transact(ctx, func(tx *gorm.DB) error {
		if err := NewDBWithGorm(tx).UpsertRoom(ctx, room); err != nil {
			return err
		}
		for _, id := range userIDs {
			if err := tx.Model(&UserRecord{}).
				Where("id = ?", string(id)).
				Update("status", string(types.StatusInGame)).Error; err != nil {
				return fmt.Errorf("failed to set status for user %s: %w", id, err)
			}
		}
		return nil
	})
}

func (d *DB) FinishGameTx(ctx context.Context, game *types.Game) error {
	return d.transact(ctx, func(tx *gorm.DB) error {
		if err := d.upsertGame(tx, game); err != nil {
			return err
		}
		if err := tx.Model(&RoomRecord{}).
			Where("id = ?", string(game.RoomID)).
			Update("status", string(types.RoomClosed)).Error; err != nil {
			return fmt.Errorf("failed to close room %s: %w", game.RoomID, err)
		}
		for _, p := range game.Players {
			if p.UserID == types.BotUserID {
				continue
			}
			if err := tx.Model(&UserRecord{}).
				Where("id = ?", string(p.UserID)).
				Update("status", string(types.StatusOnline)).Error; err != nil {
				return fmt.Errorf("failed to reset status for user %s: %w", p.UserID, err)
			}
		}
		return nil
	})
}

// transact runs fn inside one transaction under the tx budget. The wait for
// a pooled connection and the statements both live under the same deadline.
func (d *DB) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	waitCtx, waitCancel := context.WithTimeout(ctx, txMaxWait)
	defer waitCancel()
	if sqlDB, err := d.db.DB(); err == nil {
		conn, err := sqlDB.Conn(waitCtx)
		if err != nil {
			return fmt.Errorf("transaction wait exceeded: %w", err)
		}
		_ = conn.Close()
	}

	return d.db.WithContext(ctx).Transaction(fn)
}

func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- record conversion ---

func userFromRecord(rec *UserRecord) *types.User {
	return &types.User{
		ID:          types.UserID(rec.ID),
		DisplayName: rec.DisplayName,
		Status:      types.UserStatus(rec.Status),
		Elo:         rec.Elo,
		Banned:      rec.Banned,
	}
}

func recordFromUser(user *types.User) *UserRecord {
	elo := user.Elo
	if elo == 0 {
		elo = types.DefaultElo
	}
	return &UserRecord{
		ID:          string(user.ID),
		DisplayName: user.DisplayName,
		Status:      string(user.Status),
		Elo:         elo,
		Banned:      user.Banned,
	}
}

func recordFromGame(game *types.Game) (*GameRecord, error) {
	moves, err := json.Marshal(game.MoveHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal move history: %w", err)
	}
	chat, err := json.Marshal(game.Chat)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat: %w", err)
	}
	return &GameRecord{
		ID:           string(game.ID),
		RoomID:       string(game.RoomID),
		Position:     game.Position,
		Status:       string(game.Status),
		WinnerUserID: string(game.WinnerUserID),
		InitialSec:   game.TimeControl.Initial,
		IncrementSec: game.TimeControl.Increment,
		WhiteClock:   game.Clocks.White,
		BlackClock:   game.Clocks.Black,
		MoveHistory:  string(moves),
		Chat:         string(chat),
		CreatedAt:    game.CreatedAt,
	}, nil
}

func gameFromRecord(rec *GameRecord, seats []GamePlayerRecord) (*types.Game, error) {
	game := &types.Game{
		ID:           types.GameID(rec.ID),
		RoomID:       types.RoomID(rec.RoomID),
		Position:     rec.Position,
		Status:       types.GameStatus(rec.Status),
		WinnerUserID: types.UserID(rec.WinnerUserID),
		TimeControl:  types.TimeControl{Initial: rec.InitialSec, Increment: rec.IncrementSec},
		Clocks:       types.Clocks{White: rec.WhiteClock, Black: rec.BlackClock},
		CreatedAt:    rec.CreatedAt,
	}
	if rec.MoveHistory != "" {
		if err := json.Unmarshal([]byte(rec.MoveHistory), &game.MoveHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal move history for %s: %w", rec.ID, err)
		}
	}
	if rec.Chat != "" {
		if err := json.Unmarshal([]byte(rec.Chat), &game.Chat); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat for %s: %w", rec.ID, err)
		}
	}
	for i, seat := range seats {
		if i > 1 {
			break
		}
		game.Players[i] = types.GamePlayer{
			UserID:      types.UserID(seat.UserID),
			Color:       types.Color(seat.Color),
			DisplayName: seat.DisplayName,
		}
	}
	return game, nil
}
