package service

import (
	"context"

	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/model"
	"meme-hunt-server/internal/repository"
)

// LeaderboardService exposes rankings. Live rooms answer from the actor's
// in-memory counters; finished rooms fall back to the durable capture log.
type LeaderboardService struct {
	registry *room.Registry
	captures *repository.CaptureRepository
	limit    int
}

// NewLeaderboardService creates a new LeaderboardService instance.
func NewLeaderboardService(registry *room.Registry, captures *repository.CaptureRepository, limit int) *LeaderboardService {
	if limit <= 0 {
		limit = 10
	}
	return &LeaderboardService{registry: registry, captures: captures, limit: limit}
}

// TopForRoom returns the top entries for a room.
func (s *LeaderboardService) TopForRoom(ctx context.Context, roomID string) ([]model.LeaderboardEntry, error) {
	if r, err := s.registry.Get(roomID); err == nil {
		entries := r.Leaderboard()
		if len(entries) > s.limit {
			entries = entries[:s.limit]
		}
		return entries, nil
	}

	stored, err := s.captures.TopByRoom(ctx, roomID, s.limit)
	if err != nil {
		return nil, err
	}
	entries := make([]model.LeaderboardEntry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, *e)
	}
	return entries, nil
}
