// Package sim owns the live target set of one room: movement integration,
// boundary bounces, weighted spawning and delayed respawns. A Simulator is
// not safe for concurrent use; the owning room goroutine serializes access.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/model"
)

// Simulator advances the collectible targets of a single room.
type Simulator struct {
	cfg     config.GameConfig
	kinds   config.KindsConfig
	rng     *rand.Rand
	now     func() time.Time
	targets map[string]*model.Target
	// respawns holds due times for targets removed by capture, so the live
	// count recovers one respawn-delay later instead of popping instantly.
	respawns    []time.Time
	totalWeight int
}

// New creates a Simulator populated with the configured number of targets.
// rng may be seeded deterministically by tests; now defaults to time.Now.
func New(cfg config.GameConfig, kinds config.KindsConfig, rng *rand.Rand, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	s := &Simulator{
		cfg:     cfg,
		kinds:   kinds,
		rng:     rng,
		now:     now,
		targets: make(map[string]*model.Target, cfg.TargetCount),
	}
	for _, k := range kinds.Table {
		s.totalWeight += k.SpawnWeight
	}
	for i := 0; i < cfg.TargetCount; i++ {
		s.Spawn()
	}
	return s
}

// Tick advances every target by dt: integrate position, reflect velocity on
// boundary contact and clamp back inside the margin. The bounce is hard (no
// energy loss). Also retires expired airdrops and processes due respawns.
func (s *Simulator) Tick(dt float64) {
	minX, maxX := s.cfg.CanvasMargin, s.cfg.CanvasWidth-s.cfg.CanvasMargin
	minY, maxY := s.cfg.CanvasMargin, s.cfg.CanvasHeight-s.cfg.CanvasMargin
	now := s.now()

	for id, t := range s.targets {
		t.X += t.VX * dt
		t.Y += t.VY * dt

		if t.X <= minX || t.X >= maxX {
			t.VX = -t.VX
			t.X = math.Max(minX, math.Min(maxX, t.X))
		}
		if t.Y <= minY || t.Y >= maxY {
			t.VY = -t.VY
			t.Y = math.Max(minY, math.Min(maxY, t.Y))
		}

		if t.Airdrop && now.After(t.ExpiresAt) {
			delete(s.targets, id)
		}
	}

	kept := s.respawns[:0]
	for _, due := range s.respawns {
		if now.Before(due) {
			kept = append(kept, due)
			continue
		}
		s.Spawn()
	}
	s.respawns = kept
}

// Spawn places a new target of a weighted-random kind at a random in-bounds
// position, with speed from the kind table and a random direction.
func (s *Simulator) Spawn() *model.Target {
	kind := s.drawKind()
	t := s.place(kind)
	s.targets[t.ID] = t
	return t
}

// SpawnAirdrop places a bonus target that expires after the configured
// lifetime if nobody captures it. It is never replenished.
func (s *Simulator) SpawnAirdrop() *model.Target {
	t := s.place(s.kinds.Airdrop)
	t.ID = fmt.Sprintf("airdrop_%s", uuid.NewString()[:8])
	t.Airdrop = true
	t.ExpiresAt = s.now().Add(s.cfg.AirdropLifetime)
	s.targets[t.ID] = t
	return t
}

// Remove deletes a target and schedules a replacement after the respawn
// delay. Unknown IDs are a no-op: two attempts racing for the same target
// both call Remove, and only the first may win.
func (s *Simulator) Remove(id string) bool {
	t, ok := s.targets[id]
	if !ok {
		return false
	}
	delete(s.targets, id)
	if !t.Airdrop {
		s.respawns = append(s.respawns, s.now().Add(s.cfg.RespawnDelay))
	}
	return true
}

// Get returns a live target by ID.
func (s *Simulator) Get(id string) (*model.Target, bool) {
	t, ok := s.targets[id]
	return t, ok
}

// Count returns the number of live targets.
func (s *Simulator) Count() int {
	return len(s.targets)
}

// PendingRespawns returns how many replacements are queued.
func (s *Simulator) PendingRespawns() int {
	return len(s.respawns)
}

// Snapshot returns the client-visible view of the target set. Velocities
// stay server-side so clients cannot lead their shots off predicted paths.
func (s *Simulator) Snapshot() []model.TargetView {
	views := make([]model.TargetView, 0, len(s.targets))
	for _, t := range s.targets {
		views = append(views, model.TargetView{
			ID:     t.ID,
			KindID: t.KindID,
			Emoji:  s.kinds.Kind(t.KindID).Emoji,
			X:      t.X,
			Y:      t.Y,
		})
	}
	return views
}

// Nearest finds the live target closest to (x, y) within radius plus the
// target half-size, ties broken by smallest distance. ok is false when no
// target is in range.
func (s *Simulator) Nearest(x, y, radius float64) (*model.Target, bool) {
	var best *model.Target
	bestDist := math.Inf(1)
	reach := radius + s.cfg.TargetHalfSize

	for _, t := range s.targets {
		d := math.Hypot(t.X-x, t.Y-y)
		if d <= reach && d < bestDist {
			best = t
			bestDist = d
		}
	}
	return best, best != nil
}

func (s *Simulator) drawKind() model.TargetKind {
	if s.totalWeight <= 0 {
		return s.kinds.Table[0]
	}
	roll := s.rng.IntN(s.totalWeight)
	for _, k := range s.kinds.Table {
		if roll < k.SpawnWeight {
			return k
		}
		roll -= k.SpawnWeight
	}
	return s.kinds.Table[len(s.kinds.Table)-1]
}

func (s *Simulator) place(kind model.TargetKind) *model.Target {
	m := s.cfg.CanvasMargin
	angle := s.rng.Float64() * 2 * math.Pi
	return &model.Target{
		ID:     fmt.Sprintf("meme_%s", uuid.NewString()[:12]),
		KindID: kind.ID,
		X:      m + s.rng.Float64()*(s.cfg.CanvasWidth-2*m),
		Y:      m + s.rng.Float64()*(s.cfg.CanvasHeight-2*m),
		VX:     math.Cos(angle) * kind.Speed,
		VY:     math.Sin(angle) * kind.Speed,
	}
}
