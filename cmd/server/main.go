// Package main is the entry point for the meme hunt game server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/game/room"
	"meme-hunt-server/internal/pkg/db"
	"meme-hunt-server/internal/pkg/writer"
	"meme-hunt-server/internal/repository"
	"meme-hunt-server/internal/service"
	"meme-hunt-server/internal/transport/rest"
	"meme-hunt-server/internal/transport/ws"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	roomRepo := repository.NewRoomRepository(dbPool.Pool)
	claimRepo := repository.NewClaimRepository(dbPool.Pool)
	captureRepo := repository.NewCaptureRepository(dbPool.Pool)

	// Capture events drain to the database off the game loop.
	captureWriter := writer.New(captureRepo)

	// Initialize room registry
	registry := room.NewRegistry(cfg.Game, cfg.Kinds, cfg.Combo, func(roomID string) room.CaptureSink {
		return captureWriter.SinkFor(roomID)
	})

	// Initialize services
	roomService := service.NewRoomService(registry, roomRepo)
	settlementEngine := service.NewSettlementEngine(registry, roomRepo, claimRepo, captureRepo, captureWriter)
	leaderboardService := service.NewLeaderboardService(registry, captureRepo, cfg.Game.LeaderboardSize)

	// Wire transports
	mux := http.NewServeMux()
	rest.NewHandler(roomService, settlementEngine, leaderboardService, dbPool).Register(mux)
	mux.Handle("GET /ws/{id}", ws.NewHandler(registry, cfg.Game))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Stop room actors, then let the writer flush pending capture events.
	for _, meta := range registry.List() {
		registry.Destroy(meta.ID)
	}
	captureWriter.Close()

	log.Info().Msg("Server stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create rooms table
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
		);
		CREATE INDEX IF NOT EXISTS idx_rooms_status ON rooms(status, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: rooms table created")

	// Migration 2: Create claims table
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
		);
		CREATE INDEX IF NOT EXISTS idx_claims_user ON claims(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: claims table created")

	// Migration 3: Create capture events table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS capture_events (
			id UUID PRIMARY KEY,
			room_id VARCHAR(16) NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			kind_id INT NOT NULL,
			reward BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_capture_events_room ON capture_events(room_id, user_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: capture_events table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
