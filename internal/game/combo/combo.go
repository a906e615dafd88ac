// Package combo implements the per-player streak economy: net tiers,
// cooldown progression and reward multipliers. All transitions are pure
// functions over (state, outcome) so rewards are reproducible from inputs.
package combo

import (
	"math"
	"time"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/model"
)

// Engine evaluates combo transitions against a fixed policy table.
type Engine struct {
	cfg config.ComboConfig
}

// New creates an Engine with the given policy.
func New(cfg config.ComboConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Initial returns the state a player starts with, and falls back to after
// any failed attempt.
func (e *Engine) Initial() model.ComboState {
	return model.ComboState{
		Counter:  0,
		Tier:     model.TierNormal,
		Cooldown: e.cfg.InitialCooldown,
	}
}

// TierFor maps a streak counter to its tier via the fixed ascending
// thresholds. Monotonic non-decreasing in the counter.
func (e *Engine) TierFor(counter int) model.ComboTier {
	switch {
	case counter >= e.cfg.DiamondThreshold:
		return model.TierDiamond
	case counter >= e.cfg.GoldThreshold:
		return model.TierGold
	case counter >= e.cfg.SilverThreshold:
		return model.TierSilver
	}
	return model.TierNormal
}

// OnSuccess advances the streak: counter up, tier recomputed, cooldown
// reduced by the fixed step down to the floor. levelUp is true exactly
// when the tier changed.
func (e *Engine) OnSuccess(s model.ComboState, now time.Time) (model.ComboState, bool) {
	prev := s.Tier
	s.Counter++
	s.Tier = e.TierFor(s.Counter)

	s.Cooldown -= e.cfg.CooldownReduction
	if s.Cooldown < e.cfg.MinCooldown {
		s.Cooldown = e.cfg.MinCooldown
	}
	s.LastAction = now

	return s, s.Tier != prev
}

// OnFail resets the streak to defaults.
func (e *Engine) OnFail(s model.ComboState, now time.Time) model.ComboState {
	next := e.Initial()
	next.LastAction = now
	return next
}

// CanAct reports whether a player may launch a capture attempt.
//
// Cooldown enforcement is intentionally disabled: the cooldown value is an
// economy/display signal, not a rate limiter. Flip the return to
// now.Sub(s.LastAction) >= s.Cooldown to turn it into an anti-spam gate.
func (e *Engine) CanAct(s model.ComboState, now time.Time) bool {
	return true
}

// Reward computes the final reward for a capture:
// floor(base * rarity * tier multiplier). Deterministic in its inputs.
func (e *Engine) Reward(kind model.TargetKind, s model.ComboState) int64 {
	return int64(math.Floor(float64(kind.BaseReward) * kind.RarityMultiplier * e.cfg.Multiplier(s.Tier)))
}
