// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"meme-hunt-server/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Game     GameConfig     `mapstructure:"game"`
	Combo    ComboConfig    `mapstructure:"combo"`
	Kinds    KindsConfig    `mapstructure:"kinds"`
}

// ServerConfig holds HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// GameConfig holds simulation and room policy.
type GameConfig struct {
	CanvasWidth       float64       `mapstructure:"canvas_width"`
	CanvasHeight      float64       `mapstructure:"canvas_height"`
	CanvasMargin      float64       `mapstructure:"canvas_margin"`
	TargetCount       int           `mapstructure:"target_count"`
	MaxPlayers        int           `mapstructure:"max_players"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	RespawnDelay      time.Duration `mapstructure:"respawn_delay"`
	ActionTTL         time.Duration `mapstructure:"action_ttl"`
	HuntingFlagReset  time.Duration `mapstructure:"hunting_flag_reset"`
	AirdropLifetime   time.Duration `mapstructure:"airdrop_lifetime"`
	NetRadiusUnit     float64       `mapstructure:"net_radius_unit"`
	TargetHalfSize    float64       `mapstructure:"target_half_size"`
	LeaderboardSize   int           `mapstructure:"leaderboard_size"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
}

// ComboConfig holds the streak economy policy tables.
type ComboConfig struct {
	InitialCooldown   time.Duration `mapstructure:"initial_cooldown"`
	MinCooldown       time.Duration `mapstructure:"min_cooldown"`
	CooldownReduction time.Duration `mapstructure:"cooldown_reduction"`
	SilverThreshold   int           `mapstructure:"silver_threshold"`
	GoldThreshold     int           `mapstructure:"gold_threshold"`
	DiamondThreshold  int           `mapstructure:"diamond_threshold"`
	SilverMultiplier  float64       `mapstructure:"silver_multiplier"`
	GoldMultiplier    float64       `mapstructure:"gold_multiplier"`
	DiamondMultiplier float64       `mapstructure:"diamond_multiplier"`
}

// KindsConfig holds the target rarity table plus the special airdrop kind.
type KindsConfig struct {
	Table   []model.TargetKind `mapstructure:"table"`
	Airdrop model.TargetKind   `mapstructure:"airdrop"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Multiplier returns the reward multiplier for a combo tier.
func (c *ComboConfig) Multiplier(tier model.ComboTier) float64 {
	switch tier {
	case model.TierSilver:
		return c.SilverMultiplier
	case model.TierGold:
		return c.GoldMultiplier
	case model.TierDiamond:
		return c.DiamondMultiplier
	}
	return 1.0
}

// Kind looks up a spawn-table kind by ID. Unknown IDs fall back to the
// first (most common) kind so a stale client cannot crash reward math.
func (k *KindsConfig) Kind(id int) model.TargetKind {
	for _, kind := range k.Table {
		if kind.ID == id {
			return kind
		}
	}
	if k.Airdrop.ID == id {
		return k.Airdrop
	}
	return k.Table[0]
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. SERVER_ADDR, DATABASE_HOST, GAME_TARGET_COUNT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars and defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Kinds.Table) == 0 {
		cfg.Kinds = DefaultKinds()
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. The game defaults mirror
// the tuning the product shipped with.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "memehunt")
	v.SetDefault("database.name", "memehunt")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("game.canvas_width", 1600.0)
	v.SetDefault("game.canvas_height", 1200.0)
	v.SetDefault("game.canvas_margin", 20.0)
	v.SetDefault("game.target_count", 8)
	v.SetDefault("game.max_players", 10)
	v.SetDefault("game.tick_interval", "50ms")
	v.SetDefault("game.broadcast_interval", "100ms")
	v.SetDefault("game.respawn_delay", "2s")
	v.SetDefault("game.action_ttl", "2s")
	v.SetDefault("game.hunting_flag_reset", "2s")
	v.SetDefault("game.airdrop_lifetime", "10s")
	v.SetDefault("game.net_radius_unit", 30.0)
	v.SetDefault("game.target_half_size", 20.0)
	v.SetDefault("game.leaderboard_size", 10)
	v.SetDefault("game.subscriber_buffer", 16)

	v.SetDefault("combo.initial_cooldown", "5s")
	v.SetDefault("combo.min_cooldown", "2s")
	v.SetDefault("combo.cooldown_reduction", "500ms")
	v.SetDefault("combo.silver_threshold", 3)
	v.SetDefault("combo.gold_threshold", 5)
	v.SetDefault("combo.diamond_threshold", 10)
	v.SetDefault("combo.silver_multiplier", 1.5)
	v.SetDefault("combo.gold_multiplier", 2.0)
	v.SetDefault("combo.diamond_multiplier", 3.0)
}

// DefaultKinds returns the shipped rarity table. Weights are percentages
// of the spawn draw; the airdrop kind never enters the spawn table and is
// only placed by the high-traffic event path.
func DefaultKinds() KindsConfig {
	return KindsConfig{
		Table: []model.TargetKind{
			{ID: 1, Name: "Pepe", Emoji: "🐸", Speed: 2, BaseReward: 10, SpawnWeight: 40, RarityMultiplier: 1},
			{ID: 2, Name: "Doge", Emoji: "🐶", Speed: 2, BaseReward: 10, SpawnWeight: 30, RarityMultiplier: 1},
			{ID: 3, Name: "Fox", Emoji: "🦊", Speed: 4, BaseReward: 25, SpawnWeight: 15, RarityMultiplier: 3},
			{ID: 4, Name: "Diamond", Emoji: "💎", Speed: 6, BaseReward: 50, SpawnWeight: 10, RarityMultiplier: 8},
			{ID: 5, Name: "Rocket", Emoji: "🚀", Speed: 8, BaseReward: 100, SpawnWeight: 5, RarityMultiplier: 25},
		},
		Airdrop: model.TargetKind{ID: 6, Name: "Airdrop", Emoji: "🎁", Speed: 10, BaseReward: 200, RarityMultiplier: 1},
	}
}
