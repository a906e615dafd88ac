package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"meme-hunt-server/internal/model"
)

// CaptureRepository handles the append-only capture event log.
// Settlement reads points from this log, never from in-memory room state,
// so a crashed room can still be settled from what was durably recorded.
type CaptureRepository struct {
	pool *pgxpool.Pool
}

// NewCaptureRepository creates a new CaptureRepository instance.
func NewCaptureRepository(pool *pgxpool.Pool) *CaptureRepository {
	return &CaptureRepository{pool: pool}
}

// Append records a successful capture.
func (r *CaptureRepository) Append(ctx context.Context, event *model.CaptureEvent) error {
	const query = `
		INSERT INTO capture_events (id, room_id, user_id, kind_id, reward, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.RoomID, event.Identity,
		event.KindID, event.Reward, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append capture event: %w", err)
	}
	return nil
}

// PointsByRoom aggregates total reward points per player for a room.
// The map is keyed by player identity.
func (r *CaptureRepository) PointsByRoom(ctx context.Context, roomID string) (map[string]int64, error) {
	const query = `
		SELECT user_id, COALESCE(SUM(reward), 0)
		FROM capture_events
		WHERE room_id = $1
		GROUP BY user_id
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate points: %w", err)
	}
	defer rows.Close()

	points := make(map[string]int64)
	for rows.Next() {
		var identity string
		var total int64
		if err := rows.Scan(&identity, &total); err != nil {
			return nil, fmt.Errorf("failed to scan points row: %w", err)
		}
		points[identity] = total
	}

	return points, rows.Err()
}

// TopByRoom returns the room's leaderboard from the durable log,
// ordered by total reward descending.
func (r *CaptureRepository) TopByRoom(ctx context.Context, roomID string, limit int) ([]*model.LeaderboardEntry, error) {
	const query = `
		SELECT user_id, COUNT(*), COALESCE(SUM(reward), 0)
		FROM capture_events
		WHERE room_id = $1
		GROUP BY user_id
		ORDER BY 3 DESC, user_id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*model.LeaderboardEntry
	for rows.Next() {
		var entry model.LeaderboardEntry
		if err := rows.Scan(&entry.Identity, &entry.Captures, &entry.TotalReward); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
