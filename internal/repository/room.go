// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meme-hunt-server/internal/model"
)

// Common errors for repository operations.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrClaimNotFound = errors.New("claim not found")
)

// RoomRepository handles room record persistence.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new RoomRepository instance.
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// Create inserts a new room record.
func (r *RoomRepository) Create(ctx context.Context, room *model.Room) (*model.Room, error) {
	const query = `
		INSERT INTO rooms (id, name, creator_id, token_symbol, pool_balance, max_players, target_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, name, creator_id, token_symbol, pool_balance, max_players, target_count, status, created_at, settled_at
	`

	var out model.Room
	err := r.pool.QueryRow(ctx, query,
		room.ID, room.Name, room.CreatorID, room.TokenSymbol,
		room.PoolBalance, room.MaxPlayers, room.TargetCount, room.Status,
	).Scan(
		&out.ID, &out.Name, &out.CreatorID, &out.TokenSymbol,
		&out.PoolBalance, &out.MaxPlayers, &out.TargetCount, &out.Status,
		&out.CreatedAt, &out.SettledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return &out, nil
}

// GetByID retrieves a room by its short code.
// Returns ErrRoomNotFound if the room does not exist.
func (r *RoomRepository) GetByID(ctx context.Context, roomID string) (*model.Room, error) {
	const query = `
		SELECT id, name, creator_id, token_symbol, pool_balance, max_players, target_count, status, created_at, settled_at
		FROM rooms
		WHERE id = $1
	`

	var room model.Room
	err := r.pool.QueryRow(ctx, query, roomID).Scan(
		&room.ID, &room.Name, &room.CreatorID, &room.TokenSymbol,
		&room.PoolBalance, &room.MaxPlayers, &room.TargetCount, &room.Status,
		&room.CreatedAt, &room.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return &room, nil
}

// UpdateStatus sets a room's lifecycle status. The caller is responsible
// for transition validity; this is a plain persistence write.
func (r *RoomRepository) UpdateStatus(ctx context.Context, roomID string, status model.RoomStatus) error {
	const query = `UPDATE rooms SET status = $2 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, roomID, status)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// DepositToPool adds to a room's pool balance. Amount may not drive the
// balance negative; the CHECK constraint on the table backs this up.
func (r *RoomRepository) DepositToPool(ctx context.Context, roomID string, amount int64) (*model.Room, error) {
	const query = `
		UPDATE rooms
		SET pool_balance = pool_balance + $2
		WHERE id = $1
		RETURNING id, name, creator_id, token_symbol, pool_balance, max_players, target_count, status, created_at, settled_at
	`

	var room model.Room
	err := r.pool.QueryRow(ctx, query, roomID, amount).Scan(
		&room.ID, &room.Name, &room.CreatorID, &room.TokenSymbol,
		&room.PoolBalance, &room.MaxPlayers, &room.TargetCount, &room.Status,
		&room.CreatedAt, &room.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to deposit to pool: %w", err)
	}

	return &room, nil
}

// ListByStatus retrieves rooms with the given status, newest first.
func (r *RoomRepository) ListByStatus(ctx context.Context, status model.RoomStatus, limit int) ([]*model.Room, error) {
	const query = `
		SELECT id, name, creator_id, token_symbol, pool_balance, max_players, target_count, status, created_at, settled_at
		FROM rooms
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*model.Room
	for rows.Next() {
		var room model.Room
		err := rows.Scan(
			&room.ID, &room.Name, &room.CreatorID, &room.TokenSymbol,
			&room.PoolBalance, &room.MaxPlayers, &room.TargetCount, &room.Status,
			&room.CreatedAt, &room.SettledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, &room)
	}

	return rooms, rows.Err()
}
