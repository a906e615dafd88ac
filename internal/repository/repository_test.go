// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"meme-hunt-server/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runMigrations applies the database schema
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rooms (
			id VARCHAR(16) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			creator_id VARCHAR(255) NOT NULL,
			token_symbol VARCHAR(32) NOT NULL,
			pool_balance BIGINT NOT NULL DEFAULT 0 CHECK (pool_balance >= 0),
			max_players INT NOT NULL,
			target_count INT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			settled_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS claims (
			id UUID PRIMARY KEY,
			room_id VARCHAR(16) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			points BIGINT NOT NULL,
			share_ratio DOUBLE PRECISION NOT NULL,
			token_amount BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			tx_ref VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			claimed_at TIMESTAMPTZ,
			UNIQUE (room_id, user_id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS capture_events (
			id UUID PRIMARY KEY,
			room_id VARCHAR(16) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			kind_id INT NOT NULL,
			reward BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func newTestRoom(id string) *model.Room {
	return &model.Room{
		ID:          id,
		Name:        "Test Hunt",
		CreatorID:   "0xCREATOR",
		TokenSymbol: "MEME",
		PoolBalance: 1000,
		MaxPlayers:  20,
		TargetCount: 6,
		Status:      model.RoomStatusActive,
	}
}

// ============================================================================
// RoomRepository Tests
// ============================================================================

func TestRoomRepository_Create(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	room, err := repo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)
	assert.Equal(t, "AB2C3D4E", room.ID)
	assert.Equal(t, int64(1000), room.PoolBalance)
	assert.Equal(t, model.RoomStatusActive, room.Status)
	assert.False(t, room.CreatedAt.IsZero())
	assert.Nil(t, room.SettledAt)
}

func TestRoomRepository_GetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	room, err := repo.GetByID(ctx, "AB2C3D4E")
	require.NoError(t, err)
	assert.Equal(t, "Test Hunt", room.Name)

	_, err = repo.GetByID(ctx, "MISSING1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomRepository_UpdateStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	err = repo.UpdateStatus(ctx, "AB2C3D4E", model.RoomStatusPaused)
	require.NoError(t, err)

	room, err := repo.GetByID(ctx, "AB2C3D4E")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusPaused, room.Status)

	err = repo.UpdateStatus(ctx, "MISSING1", model.RoomStatusPaused)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomRepository_DepositToPool(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	room, err := repo.DepositToPool(ctx, "AB2C3D4E", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), room.PoolBalance)

	_, err = repo.DepositToPool(ctx, "MISSING1", 500)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomRepository_ListByStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRoomRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestRoom("ROOM0001"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTestRoom("ROOM0002"))
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, "ROOM0002", model.RoomStatusStopped))

	rooms, err := repo.ListByStatus(ctx, model.RoomStatusActive, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ROOM0001", rooms[0].ID)
}

// ============================================================================
// CaptureRepository Tests
// ============================================================================

func TestCaptureRepository_PointsByRoom(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	roomRepo := NewRoomRepository(pool)
	capRepo := NewCaptureRepository(pool)
	ctx := context.Background()

	_, err := roomRepo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	now := time.Now()
	for _, ev := range []struct {
		identity string
		reward   int64
	}{
		{"0xALICE", 100},
		{"0xALICE", 200},
		{"0xBOB", 700},
	} {
		err := capRepo.Append(ctx, &model.CaptureEvent{
			ID:        uuid.NewString(),
			RoomID:    "AB2C3D4E",
			Identity:  ev.identity,
			KindID:    1,
			Reward:    ev.reward,
			CreatedAt: now,
		})
		require.NoError(t, err)
	}

	points, err := capRepo.PointsByRoom(ctx, "AB2C3D4E")
	require.NoError(t, err)
	assert.Equal(t, int64(300), points["0xALICE"])
	assert.Equal(t, int64(700), points["0xBOB"])

	// Empty room aggregates to an empty map, not an error.
	_, err = roomRepo.Create(ctx, newTestRoom("EMPTY001"))
	require.NoError(t, err)
	points, err = capRepo.PointsByRoom(ctx, "EMPTY001")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestCaptureRepository_TopByRoom(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	roomRepo := NewRoomRepository(pool)
	capRepo := NewCaptureRepository(pool)
	ctx := context.Background()

	_, err := roomRepo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	now := time.Now()
	rewards := map[string][]int64{
		"0xALICE": {10, 25},
		"0xBOB":   {100},
		"0xCAROL": {10},
	}
	for identity, rs := range rewards {
		for _, reward := range rs {
			err := capRepo.Append(ctx, &model.CaptureEvent{
				ID: uuid.NewString(), RoomID: "AB2C3D4E",
				Identity: identity, KindID: 1, Reward: reward, CreatedAt: now,
			})
			require.NoError(t, err)
		}
	}

	entries, err := capRepo.TopByRoom(ctx, "AB2C3D4E", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0xBOB", entries[0].Identity)
	assert.Equal(t, int64(100), entries[0].TotalReward)
	assert.Equal(t, "0xALICE", entries[1].Identity)
	assert.Equal(t, 2, entries[1].Captures)
}

// ============================================================================
// ClaimRepository Tests
// ============================================================================

func TestClaimRepository_CreateBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	roomRepo := NewRoomRepository(pool)
	claimRepo := NewClaimRepository(pool)
	ctx := context.Background()

	_, err := roomRepo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	claims := []*model.Claim{
		{
			ID: uuid.NewString(), RoomID: "AB2C3D4E", Identity: "0xALICE",
			Points: 300, ShareRatio: 0.3, TokenAmount: 300,
			Status: model.ClaimStatusPending,
		},
		{
			ID: uuid.NewString(), RoomID: "AB2C3D4E", Identity: "0xBOB",
			Points: 700, ShareRatio: 0.7, TokenAmount: 700,
			Status: model.ClaimStatusPending,
		},
	}

	err = claimRepo.CreateBatch(ctx, "AB2C3D4E", claims, model.RoomStatusSettled)
	require.NoError(t, err)

	room, err := roomRepo.GetByID(ctx, "AB2C3D4E")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusSettled, room.Status)
	require.NotNil(t, room.SettledAt)

	stored, err := claimRepo.GetByRoom(ctx, "AB2C3D4E")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "0xBOB", stored[0].Identity) // largest payout first
	assert.Equal(t, int64(700), stored[0].TokenAmount)
}

func TestClaimRepository_CreateBatch_AlreadySettled(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	roomRepo := NewRoomRepository(pool)
	claimRepo := NewClaimRepository(pool)
	ctx := context.Background()

	_, err := roomRepo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	first := []*model.Claim{{
		ID: uuid.NewString(), RoomID: "AB2C3D4E", Identity: "0xALICE",
		Points: 100, ShareRatio: 1, TokenAmount: 1000,
		Status: model.ClaimStatusPending,
	}}
	require.NoError(t, claimRepo.CreateBatch(ctx, "AB2C3D4E", first, model.RoomStatusSettled))

	// Second settlement must fail atomically: no duplicate claims written.
	second := []*model.Claim{{
		ID: uuid.NewString(), RoomID: "AB2C3D4E", Identity: "0xBOB",
		Points: 1, ShareRatio: 1, TokenAmount: 1000,
		Status: model.ClaimStatusPending,
	}}
	err = claimRepo.CreateBatch(ctx, "AB2C3D4E", second, model.RoomStatusSettled)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	stored, err := claimRepo.GetByRoom(ctx, "AB2C3D4E")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	err = claimRepo.CreateBatch(ctx, "MISSING1", second, model.RoomStatusSettled)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestClaimRepository_MarkCompleted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	roomRepo := NewRoomRepository(pool)
	claimRepo := NewClaimRepository(pool)
	ctx := context.Background()

	_, err := roomRepo.Create(ctx, newTestRoom("AB2C3D4E"))
	require.NoError(t, err)

	claimID := uuid.NewString()
	claims := []*model.Claim{{
		ID: claimID, RoomID: "AB2C3D4E", Identity: "0xALICE",
		Points: 100, ShareRatio: 1, TokenAmount: 1000,
		Status: model.ClaimStatusPending,
	}}
	require.NoError(t, claimRepo.CreateBatch(ctx, "AB2C3D4E", claims, model.RoomStatusSettled))

	err = claimRepo.MarkCompleted(ctx, claimID, "0xTXHASH")
	require.NoError(t, err)

	stored, err := claimRepo.GetByIdentity(ctx, "0xALICE")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.ClaimStatusCompleted, stored[0].Status)
	require.NotNil(t, stored[0].TxRef)
	assert.Equal(t, "0xTXHASH", *stored[0].TxRef)
	assert.NotNil(t, stored[0].ClaimedAt)

	// Completed claims are terminal.
	err = claimRepo.MarkCompleted(ctx, claimID, "0xOTHER")
	assert.ErrorIs(t, err, ErrClaimNotFound)
}
