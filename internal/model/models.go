// Package model defines the data models for the meme hunt game server.
package model

import "time"

// RoomStatus represents the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "active"
	RoomStatusPaused  RoomStatus = "paused"
	RoomStatusEnded   RoomStatus = "ended"
	RoomStatusSettled RoomStatus = "settled"
	RoomStatusStopped RoomStatus = "stopped"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s RoomStatus) Terminal() bool {
	switch s {
	case RoomStatusEnded, RoomStatusSettled, RoomStatusStopped:
		return true
	}
	return false
}

// Room represents an isolated game session with its own target pool,
// players and reward pool. PoolBalance is in smallest token units and
// only ever decreases once claims are created.
type Room struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	CreatorID   string     `db:"creator_id"`
	TokenSymbol string     `db:"token_symbol"`
	PoolBalance int64      `db:"pool_balance"`
	MaxPlayers  int        `db:"max_players"`
	TargetCount int        `db:"target_count"`
	Status      RoomStatus `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	SettledAt   *time.Time `db:"settled_at"`
}

// TargetKind describes a rarity class of collectible target.
// All kind attributes are policy, loaded from configuration.
type TargetKind struct {
	ID               int     `mapstructure:"id"`
	Name             string  `mapstructure:"name"`
	Emoji            string  `mapstructure:"emoji"`
	Speed            float64 `mapstructure:"speed"`
	BaseReward       int64   `mapstructure:"base_reward"`
	SpawnWeight      int     `mapstructure:"spawn_weight"`
	RarityMultiplier float64 `mapstructure:"rarity_multiplier"`
}

// Target is a live collectible entity inside one room's simulation.
// Velocity is server-only and never leaves the simulator.
type Target struct {
	ID        string
	KindID    int
	X         float64
	Y         float64
	VX        float64
	VY        float64
	Airdrop   bool
	ExpiresAt time.Time // zero for ordinary targets
}

// TargetView is the client-visible projection of a target.
// It deliberately carries no velocity so clients cannot predict movement.
type TargetView struct {
	ID     string  `json:"id"`
	KindID int     `json:"kindId"`
	Emoji  string  `json:"emoji,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Player is a connection-scoped participant of a room. Identity (the wallet
// address string) outlives the connection; combo state and points are keyed
// by identity, not by connection.
type Player struct {
	ConnID    string    `json:"-"`
	Identity  string    `json:"identity"`
	Nickname  string    `json:"nickname"`
	Color     string    `json:"color"`
	StyleIdx  int       `json:"styleIndex"`
	IsHunting bool      `json:"isHunting"`
	JoinedAt  time.Time `json:"-"`
}

// ComboTier is the streak-derived net tier of a player.
type ComboTier string

const (
	TierNormal  ComboTier = "normal"
	TierSilver  ComboTier = "silver"
	TierGold    ComboTier = "gold"
	TierDiamond ComboTier = "diamond"
)

// ComboState tracks one player's streak within one room.
// Tier is always a pure function of Counter; Cooldown shrinks by a fixed
// step per success down to a floor and snaps back to the initial value on
// any failure.
type ComboState struct {
	Counter    int
	Tier       ComboTier
	Cooldown   time.Duration
	LastAction time.Time
}

// HuntOutcome is the result class of a capture attempt.
type HuntOutcome string

const (
	OutcomePending HuntOutcome = "pending"
	OutcomeCatch   HuntOutcome = "catch"
	OutcomeEscape  HuntOutcome = "escape"
	OutcomeEmpty   HuntOutcome = "empty"
)

// HuntAction is a transient record of a capture attempt, kept only long
// enough to be broadcast and then purged. Never persisted.
type HuntAction struct {
	ID        string      `json:"id"`
	Identity  string      `json:"identity"`
	Nickname  string      `json:"nickname"`
	Color     string      `json:"color"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	NetSizeID int         `json:"netSizeId"`
	Outcome   HuntOutcome `json:"outcome"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClaimStatus is the payout state of a claim. Completed and failed are
// terminal; a failed claim is resettled externally, never re-derived here.
type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusCompleted ClaimStatus = "completed"
	ClaimStatusFailed    ClaimStatus = "failed"
)

// Claim entitles a player to a share of a settled room's pool.
// TokenAmount = floor(pool * ShareRatio); the floor guarantees the sum of
// a room's claims never exceeds the pool at settlement time.
type Claim struct {
	ID          string      `db:"id"`
	RoomID      string      `db:"room_id"`
	Identity    string      `db:"user_id"`
	Points      int64       `db:"points"`
	ShareRatio  float64     `db:"share_ratio"`
	TokenAmount int64       `db:"token_amount"`
	Status      ClaimStatus `db:"status"`
	TxRef       *string     `db:"tx_ref"`
	CreatedAt   time.Time   `db:"created_at"`
	ClaimedAt   *time.Time  `db:"claimed_at"`
}

// CaptureEvent is the persisted record of a successful capture, the
// append-only log settlement aggregates points from.
type CaptureEvent struct {
	ID        string    `db:"id"`
	RoomID    string    `db:"room_id"`
	Identity  string    `db:"user_id"`
	KindID    int       `db:"kind_id"`
	Reward    int64     `db:"reward"`
	CreatedAt time.Time `db:"created_at"`
}

// LeaderboardEntry is one row of a room's top-N ranking.
type LeaderboardEntry struct {
	Identity    string `json:"identity"`
	Nickname    string `json:"nickname"`
	Captures    int    `json:"captures"`
	TotalReward int64  `json:"totalReward"`
}
