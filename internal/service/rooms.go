package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/model"
	"meme-hunt-server/internal/repository"
)

// Common errors for room operations.
var (
	ErrInvalidAmount = errors.New("deposit amount must be positive")
	ErrInvalidParams = errors.New("invalid room parameters")
)

// RoomService pairs the live registry with durable room records. The
// registry is authoritative for gameplay; the database is authoritative
// for money and outlives the process.
type RoomService struct {
	registry *room.Registry
	rooms    *repository.RoomRepository
}

// NewRoomService creates a new RoomService instance.
func NewRoomService(registry *room.Registry, rooms *repository.RoomRepository) *RoomService {
	return &RoomService{registry: registry, rooms: rooms}
}

// Create starts a new room actor and persists its record. A failed write
// tears the actor down again so the two views cannot diverge.
func (s *RoomService) Create(ctx context.Context, creatorID string, opts room.CreateOptions) (model.Room, error) {
	if creatorID == "" {
		return model.Room{}, ErrInvalidParams
	}
	if opts.PoolBalance < 0 {
		return model.Room{}, ErrInvalidParams
	}

	meta := s.registry.Create(creatorID, opts)

	stored, err := s.rooms.Create(ctx, &meta)
	if err != nil {
		s.registry.Destroy(meta.ID)
		return model.Room{}, fmt.Errorf("failed to persist room: %w", err)
	}
	return *stored, nil
}

// Get returns a room's metadata, falling back to the durable record for
// rooms whose actor is already gone.
func (s *RoomService) Get(ctx context.Context, roomID string) (model.Room, error) {
	if meta, err := s.registry.Meta(roomID); err == nil {
		return meta, nil
	}
	stored, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return model.Room{}, err
	}
	return *stored, nil
}

// ListJoinable returns rooms players can currently enter or resume.
func (s *RoomService) ListJoinable() []model.Room {
	return s.registry.List(model.RoomStatusActive, model.RoomStatusPaused)
}

// Deposit adds funds to a live room's pool.
func (s *RoomService) Deposit(ctx context.Context, roomID string, amount int64) (model.Room, error) {
	if amount <= 0 {
		return model.Room{}, ErrInvalidAmount
	}

	status, err := s.registry.Status(roomID)
	if err != nil {
		return model.Room{}, err
	}
	if status.Terminal() {
		return model.Room{}, ErrRoomTerminal
	}

	stored, err := s.rooms.DepositToPool(ctx, roomID, amount)
	if err != nil {
		return model.Room{}, err
	}
	if err := s.registry.AddPool(roomID, amount); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("Registry pool update missed")
	}

	log.Info().Str("room", roomID).Int64("amount", amount).Int64("pool", stored.PoolBalance).Msg("Pool deposit")
	return *stored, nil
}

// SetStatus applies a lifecycle transition to both views. The registry
// enforces the transition table; the durable write follows.
func (s *RoomService) SetStatus(ctx context.Context, roomID string, next model.RoomStatus) error {
	if err := s.registry.SetStatus(roomID, next); err != nil {
		return err
	}
	if err := s.rooms.UpdateStatus(ctx, roomID, next); err != nil {
		log.Error().Err(err).Str("room", roomID).Str("status", string(next)).Msg("Durable status update failed")
	}
	return nil
}
