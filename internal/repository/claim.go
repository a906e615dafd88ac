package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meme-hunt-server/internal/model"
)

// ErrAlreadySettled indicates the room already has a settlement recorded.
var ErrAlreadySettled = errors.New("room already settled")

// ClaimRepository handles claim record persistence.
type ClaimRepository struct {
	pool *pgxpool.Pool
}

// NewClaimRepository creates a new ClaimRepository instance.
func NewClaimRepository(pool *pgxpool.Pool) *ClaimRepository {
	return &ClaimRepository{pool: pool}
}

// CreateBatch atomically writes a settlement: all claims for a room plus the
// room's transition to the given terminal status, in one transaction. Either
// every claim lands and the room is flipped, or nothing is written.
//
// The room update is guarded on the room still being settlable; a concurrent
// settlement that committed first makes this call fail with ErrAlreadySettled.
func (r *ClaimRepository) CreateBatch(ctx context.Context, roomID string, claims []*model.Claim, finalStatus model.RoomStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const roomQuery = `
		UPDATE rooms
		SET status = $2, settled_at = $3
		WHERE id = $1 AND status NOT IN ('settled', 'stopped')
	`

	now := time.Now()
	tag, err := tx.Exec(ctx, roomQuery, roomID, finalStatus, now)
	if err != nil {
		return fmt.Errorf("failed to finalize room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing room from one already finalized.
		var status model.RoomStatus
		err := tx.QueryRow(ctx, `SELECT status FROM rooms WHERE id = $1`, roomID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check room status: %w", err)
		}
		return ErrAlreadySettled
	}

	const claimQuery = `
		INSERT INTO claims (id, room_id, user_id, points, share_ratio, token_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, claim := range claims {
		_, err := tx.Exec(ctx, claimQuery,
			claim.ID, claim.RoomID, claim.Identity,
			claim.Points, claim.ShareRatio, claim.TokenAmount,
			claim.Status, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert claim for %s: %w", claim.Identity, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	return nil
}

// GetByRoom retrieves all claims for a room, largest payout first.
func (r *ClaimRepository) GetByRoom(ctx context.Context, roomID string) ([]*model.Claim, error) {
	const query = `
		SELECT id, room_id, user_id, points, share_ratio, token_amount, status, tx_ref, created_at, claimed_at
		FROM claims
		WHERE room_id = $1
		ORDER BY token_amount DESC, user_id
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer rows.Close()

	return scanClaims(rows)
}

// GetByIdentity retrieves a player's claims across all rooms, newest first.
func (r *ClaimRepository) GetByIdentity(ctx context.Context, identity string) ([]*model.Claim, error) {
	const query = `
		SELECT id, room_id, user_id, points, share_ratio, token_amount, status, tx_ref, created_at, claimed_at
		FROM claims
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer rows.Close()

	return scanClaims(rows)
}

// MarkCompleted records a successful payout for a claim.
func (r *ClaimRepository) MarkCompleted(ctx context.Context, claimID, txRef string) error {
	const query = `
		UPDATE claims
		SET status = 'completed', tx_ref = $2, claimed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, claimID, txRef)
	if err != nil {
		return fmt.Errorf("failed to mark claim completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// MarkFailed records a failed payout attempt for a claim.
func (r *ClaimRepository) MarkFailed(ctx context.Context, claimID string) error {
	const query = `
		UPDATE claims
		SET status = 'failed'
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, claimID)
	if err != nil {
		return fmt.Errorf("failed to mark claim failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimNotFound
	}
	return nil
}

func scanClaims(rows pgx.Rows) ([]*model.Claim, error) {
	var claims []*model.Claim
	for rows.Next() {
		var claim model.Claim
		err := rows.Scan(
			&claim.ID, &claim.RoomID, &claim.Identity,
			&claim.Points, &claim.ShareRatio, &claim.TokenAmount,
			&claim.Status, &claim.TxRef, &claim.CreatedAt, &claim.ClaimedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, &claim)
	}
	return claims, rows.Err()
}
