// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/model"
	"meme-hunt-server/internal/pkg/lock"
	"meme-hunt-server/internal/pkg/writer"
	"meme-hunt-server/internal/repository"
)

// Common errors for settlement operations.
var (
	ErrRoomTerminal = errors.New("room is in a terminal state")
)

// SettlementEngine converts a room's durable capture log into claims and
// finalizes the room. Settlement and stop for the same room exclude each
// other via a per-room lock; gameplay itself is serialized by the room actor.
type SettlementEngine struct {
	registry *room.Registry
	rooms    *repository.RoomRepository
	claims   *repository.ClaimRepository
	captures *repository.CaptureRepository
	writer   *writer.CaptureWriter
	locks    *lock.RoomLock
}

// NewSettlementEngine creates a new SettlementEngine instance.
func NewSettlementEngine(
	registry *room.Registry,
	rooms *repository.RoomRepository,
	claims *repository.ClaimRepository,
	captures *repository.CaptureRepository,
	w *writer.CaptureWriter,
) *SettlementEngine {
	return &SettlementEngine{
		registry: registry,
		rooms:    rooms,
		claims:   claims,
		captures: captures,
		writer:   w,
		locks:    lock.NewRoomLock(),
	}
}

// Settle freezes a room, splits its pool proportionally to earned points
// and writes the resulting claims atomically. A room where nobody earned
// points is left running and ErrNoPointsEarned is returned.
//
// The room is frozen for the whole settlement; if anything past the freeze
// fails, the room is unfrozen and remains settlable.
func (s *SettlementEngine) Settle(ctx context.Context, roomID string) ([]*model.Claim, error) {
	s.locks.Lock(roomID)
	defer s.locks.Unlock(roomID)

	status, err := s.registry.Status(roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanTransition(status, model.RoomStatusSettled) {
		return nil, ErrRoomTerminal
	}

	r, err := s.registry.Get(roomID)
	if err != nil {
		return nil, err
	}

	livePoints, err := r.Freeze(true)
	if err != nil {
		return nil, err
	}

	claims, err := s.settleFrozen(ctx, roomID, livePoints, model.RoomStatusSettled)
	if err != nil {
		r.Unfreeze()
		return nil, err
	}

	if err := s.registry.SetStatus(roomID, model.RoomStatusSettled); err != nil {
		// The database is already final; the registry disagreeing is a bug
		// worth a log line, not a rollback.
		log.Error().Err(err).Str("room", roomID).Msg("Registry transition failed after settlement")
	}

	log.Info().Str("room", roomID).Int("claims", len(claims)).Msg("Room settled")
	return claims, nil
}

// Stop terminates a room without paying anything out. It returns the
// unspent pool balance; the refund transfer itself happens externally.
func (s *SettlementEngine) Stop(ctx context.Context, roomID string) (int64, error) {
	s.locks.Lock(roomID)
	defer s.locks.Unlock(roomID)

	status, err := s.registry.Status(roomID)
	if err != nil {
		return 0, err
	}
	if !room.CanTransition(status, model.RoomStatusStopped) {
		return 0, ErrRoomTerminal
	}

	r, err := s.registry.Get(roomID)
	if err != nil {
		return 0, err
	}

	if _, err := r.Freeze(false); err != nil {
		return 0, err
	}

	if s.writer != nil {
		s.writer.Flush(roomID)
	}

	dbRoom, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		r.Unfreeze()
		return 0, err
	}

	if err := s.claims.CreateBatch(ctx, roomID, nil, model.RoomStatusStopped); err != nil {
		r.Unfreeze()
		return 0, fmt.Errorf("failed to stop room: %w", err)
	}

	if err := s.registry.SetStatus(roomID, model.RoomStatusStopped); err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("Registry transition failed after stop")
	}

	log.Info().Str("room", roomID).Int64("refund", dbRoom.PoolBalance).Msg("Room stopped without settlement")
	return dbRoom.PoolBalance, nil
}

// settleFrozen runs the persistence half of a settlement. The caller has
// already frozen the room and unfreezes it on error.
func (s *SettlementEngine) settleFrozen(ctx context.Context, roomID string, livePoints map[string]int64, final model.RoomStatus) ([]*model.Claim, error) {
	if s.writer != nil {
		s.writer.Flush(roomID)
	}

	points, err := s.captures.PointsByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate capture log: %w", err)
	}
	if len(points) == 0 {
		// Events dropped under backpressure leave the log behind the
		// actor's view; the actor's counters are the fallback.
		points = livePoints
	}

	dbRoom, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	claims := ComputeShares(roomID, dbRoom.PoolBalance, points, time.Now())
	if err := s.claims.CreateBatch(ctx, roomID, claims, final); err != nil {
		return nil, err
	}
	return claims, nil
}

// Claims returns the claims recorded for a room.
func (s *SettlementEngine) Claims(ctx context.Context, roomID string) ([]*model.Claim, error) {
	return s.claims.GetByRoom(ctx, roomID)
}

// ClaimsForIdentity returns a player's claims across all rooms.
func (s *SettlementEngine) ClaimsForIdentity(ctx context.Context, identity string) ([]*model.Claim, error) {
	return s.claims.GetByIdentity(ctx, identity)
}

// ComputeShares splits a pool proportionally to points earned.
// Each payout is floor(pool * points / total), computed in exact integer
// arithmetic, so the sum of all payouts never exceeds the pool; the
// remainder stays on the room as dust. Players with zero points get no
// claim. The returned claims are ordered by identity for determinism.
func ComputeShares(roomID string, pool int64, points map[string]int64, now time.Time) []*model.Claim {
	var total int64
	identities := make([]string, 0, len(points))
	for identity, p := range points {
		if p <= 0 {
			continue
		}
		total += p
		identities = append(identities, identity)
	}
	if total == 0 {
		return nil
	}
	sort.Strings(identities)

	bigPool := big.NewInt(pool)
	bigTotal := big.NewInt(total)

	claims := make([]*model.Claim, 0, len(identities))
	for _, identity := range identities {
		p := points[identity]
		amount := new(big.Int).Mul(bigPool, big.NewInt(p))
		amount.Div(amount, bigTotal)

		claims = append(claims, &model.Claim{
			ID:          uuid.NewString(),
			RoomID:      roomID,
			Identity:    identity,
			Points:      p,
			ShareRatio:  float64(p) / float64(total),
			TokenAmount: amount.Int64(),
			Status:      model.ClaimStatusPending,
			CreatedAt:   now,
		})
	}
	return claims
}
