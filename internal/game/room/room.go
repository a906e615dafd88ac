// Package room hosts the per-room game actors and their registry. Each room
// runs one goroutine that exclusively owns the simulator, combo states,
// accumulated points and nonces; every mutation arrives as a command on a
// single channel, which is what serializes racing capture attempts.
package room

import (
	"errors"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meme-hunt-server/internal/config"
	"meme-hunt-server/internal/game/combo"
	"meme-hunt-server/internal/game/sim"
	"meme-hunt-server/internal/game/verify"
	"meme-hunt-server/internal/model"
)

var (
	ErrRoomClosed     = errors.New("room closed")
	ErrRoomFull       = errors.New("room full")
	ErrNoPointsEarned = errors.New("no points earned")
)

// CaptureSink receives successful captures for asynchronous persistence.
// Implementations must not block; ordering per room is the sink's contract.
type CaptureSink interface {
	Record(ev model.CaptureEvent)
}

type playerStats struct {
	captures    int
	totalReward int64
	nickname    string
}

// Room is the actor owning all live state of one game session.
type Room struct {
	ID         string
	maxPlayers int

	inbox chan any
	quit  chan struct{}

	cfg      config.GameConfig
	kinds    config.KindsConfig
	sim      *sim.Simulator
	combos   *combo.Engine
	verifier *verify.Verifier
	sink     CaptureSink
	now      func() time.Time

	// Keyed by connection ID; players deduplicate by identity in snapshots.
	players map[string]*model.Player
	subs    map[string]*Subscriber

	// Keyed by identity: survives reconnects until the room ends.
	comboStates map[string]model.ComboState
	points      map[string]int64
	nonces      map[string]uint64
	stats       map[string]*playerStats

	actions []model.HuntAction
	// huntingUntil drives the timed reset of the transient is-capturing flag.
	huntingUntil map[string]time.Time

	paused bool
	frozen bool
}

// Options configures a new room actor.
type Options struct {
	MaxPlayers  int
	TargetCount int
	Sink        CaptureSink
	Rand        *rand.Rand
	Now         func() time.Time
}

func newRoom(id string, cfg config.GameConfig, kinds config.KindsConfig, comboCfg config.ComboConfig, opts Options) *Room {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = cfg.MaxPlayers
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 100 * time.Millisecond
	}
	simCfg := cfg
	if opts.TargetCount > 0 {
		simCfg.TargetCount = opts.TargetCount
	}

	return &Room{
		ID:           id,
		maxPlayers:   opts.MaxPlayers,
		inbox:        make(chan any, 256),
		quit:         make(chan struct{}),
		cfg:          cfg,
		kinds:        kinds,
		sim:          sim.New(simCfg, kinds, opts.Rand, opts.Now),
		combos:       combo.New(comboCfg),
		verifier:     verify.New(),
		sink:         opts.Sink,
		now:          opts.Now,
		players:      make(map[string]*model.Player),
		subs:         make(map[string]*Subscriber),
		comboStates:  make(map[string]model.ComboState),
		points:       make(map[string]int64),
		nonces:       make(map[string]uint64),
		stats:        make(map[string]*playerStats),
		huntingUntil: make(map[string]time.Time),
	}
}

// Run is the actor loop. It owns every field of the Room; nothing outside
// this goroutine touches them.
func (r *Room) Run() {
	simTicker := time.NewTicker(r.cfg.TickInterval)
	defer simTicker.Stop()
	broadcastTicker := time.NewTicker(r.cfg.BroadcastInterval)
	defer broadcastTicker.Stop()

	dt := r.cfg.TickInterval.Seconds() / 0.05 // reference tuning: speeds are per 50ms frame

	for {
		select {
		case <-r.quit:
			for _, sub := range r.subs {
				sub.Close()
			}
			return
		case cmd := <-r.inbox:
			r.handle(cmd)
		case <-simTicker.C:
			if !r.paused && !r.frozen {
				r.sim.Tick(dt)
			}
			r.expireTransient()
		case <-broadcastTicker.C:
			r.broadcast(EventRoomState, r.statePayload())
		}
	}
}

// Stop terminates the actor loop.
func (r *Room) Stop() {
	close(r.quit)
}

func (r *Room) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		c.reply <- r.handleJoin(c)
	case leaveCmd:
		r.handleLeave(c.connID)
	case captureCmd:
		c.reply <- r.handleCapture(c)
	case leaderboardCmd:
		c.reply <- r.leaderboard()
	case pointsCmd:
		c.reply <- r.pointsCopy()
	case recordCmd:
		// A frozen room admits no further point mutation.
		if !r.frozen {
			r.recordCapture(c.identity, c.reward, 0)
		}
	case freezeCmd:
		c.reply <- r.handleFreeze(c)
	case unfreezeCmd:
		r.frozen = false
	case pauseCmd:
		r.paused = c.paused
	}
}

func (r *Room) handleJoin(c joinCmd) joinReply {
	if r.frozen {
		return joinReply{err: ErrRoomClosed}
	}
	newIdentity := !r.identityPresent(c.identity)
	if newIdentity && r.distinctIdentities() >= r.maxPlayers {
		return joinReply{err: ErrRoomFull}
	}

	style := StyleFor(c.identity)
	player := &model.Player{
		ConnID:   c.connID,
		Identity: c.identity,
		Nickname: Nickname(c.identity),
		Color:    style.Color,
		StyleIdx: StyleIndex(c.identity),
		JoinedAt: r.now(),
	}
	r.players[c.connID] = player
	if c.sub != nil {
		r.subs[c.connID] = c.sub
	}
	if _, ok := r.comboStates[c.identity]; !ok {
		r.comboStates[c.identity] = r.combos.Initial()
	}

	log.Info().Str("room", r.ID).Str("player", player.Nickname).Msg("Player joined")
	r.broadcastExcept(c.connID, EventPlayerJoined, PlayerEventPayload{
		Identity: player.Identity,
		Nickname: player.Nickname,
	})

	// A full house triggers the bonus drop.
	if newIdentity && r.distinctIdentities() == r.maxPlayers {
		t := r.sim.SpawnAirdrop()
		log.Info().Str("room", r.ID).Str("target", t.ID).Msg("Airdrop spawned")
	}

	return joinReply{player: *player, state: r.statePayload()}
}

func (r *Room) handleLeave(connID string) {
	player, ok := r.players[connID]
	if !ok {
		return
	}
	delete(r.players, connID)
	if sub, ok := r.subs[connID]; ok {
		sub.Close()
		delete(r.subs, connID)
	}
	// Combo state, nonces and points stay: they are keyed by identity and
	// survive reconnects until settlement.
	log.Info().Str("room", r.ID).Str("player", player.Nickname).Msg("Player left")
	r.broadcast(EventPlayerLeft, PlayerEventPayload{
		Identity: player.Identity,
		Nickname: player.Nickname,
	})
}

// handleCapture runs the full hunt-resolution pipeline under the actor's
// exclusion: verify -> combo -> reward -> remove -> points -> broadcast.
func (r *Room) handleCapture(c captureCmd) captureReply {
	player, ok := r.players[c.connID]
	if !ok {
		return captureReply{err: ErrRoomClosed}
	}
	if r.frozen || r.paused {
		return captureReply{err: ErrRoomClosed}
	}
	identity := player.Identity

	state, ok := r.comboStates[identity]
	if !ok {
		state = r.combos.Initial()
	}
	now := r.now()
	if !r.combos.CanAct(state, now) {
		// Unreachable under current policy; kept so enabling enforcement in
		// the combo engine needs no change here.
		return captureReply{result: CaptureResultPayload{Outcome: model.OutcomeEmpty, Combo: comboView(state)}}
	}

	res, err := r.verifier.Verify(c.req, r.nonces[identity], r.sim)
	if err != nil {
		return captureReply{err: err}
	}
	r.nonces[identity] = c.req.Nonce

	player.IsHunting = true
	r.huntingUntil[c.connID] = now.Add(r.cfg.HuntingFlagReset)

	var reply CaptureResultPayload
	displayOutcome := res.Outcome

	if res.Outcome == model.OutcomeCatch {
		kind := r.kinds.Kind(res.Target.KindID)
		next, levelUp := r.combos.OnSuccess(state, now)
		reward := r.combos.Reward(kind, next)
		r.comboStates[identity] = next

		r.sim.Remove(res.Target.ID)
		r.recordCapture(identity, reward, 1)

		if r.sink != nil {
			r.sink.Record(model.CaptureEvent{
				ID:        uuid.NewString(),
				RoomID:    r.ID,
				Identity:  identity,
				KindID:    kind.ID,
				Reward:    reward,
				CreatedAt: now,
			})
		}

		reply = CaptureResultPayload{
			Outcome:  model.OutcomeCatch,
			TargetID: res.Target.ID,
			Reward:   reward,
			LevelUp:  levelUp,
			Combo:    comboView(next),
		}

		r.broadcast(EventTargetRemoved, TargetRemovedPayload{TargetID: res.Target.ID})
		r.broadcast(EventLeaderboard, r.leaderboard())
	} else {
		next := r.combos.OnFail(state, now)
		r.comboStates[identity] = next
		reply = CaptureResultPayload{Outcome: res.Outcome, Combo: comboView(next)}

		// The requester's verdict is "empty", but spectators see a near
		// miss as an escape when targets of that kind are still around.
		if r.kindAlive(c.req.KindID) {
			displayOutcome = model.OutcomeEscape
		}
	}

	action := model.HuntAction{
		ID:        uuid.NewString(),
		Identity:  identity,
		Nickname:  player.Nickname,
		Color:     player.Color,
		X:         c.req.X,
		Y:         c.req.Y,
		NetSizeID: c.req.NetSizeID,
		Outcome:   displayOutcome,
		Timestamp: now,
	}
	r.actions = append(r.actions, action)

	// Immediate fire-and-forget fan-out; the next snapshot repeats it.
	r.broadcastExcept(c.connID, EventCaptureBroadcast, CaptureBroadcastPayload{
		Identity:  identity,
		Nickname:  player.Nickname,
		Color:     player.Color,
		X:         c.req.X,
		Y:         c.req.Y,
		NetSizeID: c.req.NetSizeID,
		Outcome:   displayOutcome,
	})

	return captureReply{result: reply}
}

func (r *Room) recordCapture(identity string, reward int64, captures int) {
	r.points[identity] += reward
	st, ok := r.stats[identity]
	if !ok {
		st = &playerStats{nickname: Nickname(identity)}
		r.stats[identity] = st
	}
	st.captures += captures
	st.totalReward += reward
}

func (r *Room) handleFreeze(c freezeCmd) freezeReply {
	if c.requirePoints {
		var total int64
		for _, p := range r.points {
			total += p
		}
		if total == 0 {
			return freezeReply{err: ErrNoPointsEarned}
		}
	}
	r.frozen = true
	return freezeReply{points: r.pointsCopy()}
}

func (r *Room) pointsCopy() map[string]int64 {
	out := make(map[string]int64, len(r.points))
	for k, v := range r.points {
		out[k] = v
	}
	return out
}

func (r *Room) leaderboard() []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(r.stats))
	for identity, st := range r.stats {
		entries = append(entries, model.LeaderboardEntry{
			Identity:    identity,
			Nickname:    st.nickname,
			Captures:    st.captures,
			TotalReward: st.totalReward,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalReward != entries[j].TotalReward {
			return entries[i].TotalReward > entries[j].TotalReward
		}
		return entries[i].Identity < entries[j].Identity
	})
	if n := r.cfg.LeaderboardSize; n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (r *Room) statePayload() StatePayload {
	// Deduplicate players by identity; the most recent connection wins.
	byIdentity := make(map[string]*model.Player, len(r.players))
	for _, p := range r.players {
		cur, ok := byIdentity[p.Identity]
		if !ok || p.JoinedAt.After(cur.JoinedAt) {
			byIdentity[p.Identity] = p
		}
	}
	players := make([]model.Player, 0, len(byIdentity))
	for _, p := range byIdentity {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Identity < players[j].Identity })

	actions := make([]model.HuntAction, len(r.actions))
	copy(actions, r.actions)

	return StatePayload{
		Targets:     r.sim.Snapshot(),
		Players:     players,
		Actions:     actions,
		PlayerCount: len(byIdentity),
		Timestamp:   r.now().UnixMilli(),
	}
}

func (r *Room) expireTransient() {
	now := r.now()

	kept := r.actions[:0]
	for _, a := range r.actions {
		if now.Sub(a.Timestamp) < r.cfg.ActionTTL {
			kept = append(kept, a)
		}
	}
	r.actions = kept

	for connID, until := range r.huntingUntil {
		if now.After(until) {
			if p, ok := r.players[connID]; ok {
				p.IsHunting = false
			}
			delete(r.huntingUntil, connID)
		}
	}
}

func (r *Room) broadcast(eventType string, payload any) {
	r.broadcastExcept("", eventType, payload)
}

func (r *Room) broadcastExcept(exceptConnID, eventType string, payload any) {
	if len(r.subs) == 0 {
		return
	}
	msg, err := Encode(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("room", r.ID).Str("event", eventType).Msg("Failed to encode broadcast")
		return
	}
	for connID, sub := range r.subs {
		if connID == exceptConnID {
			continue
		}
		sub.Push(msg)
	}
}

func (r *Room) distinctIdentities() int {
	seen := make(map[string]struct{}, len(r.players))
	for _, p := range r.players {
		seen[p.Identity] = struct{}{}
	}
	return len(seen)
}

func (r *Room) identityPresent(identity string) bool {
	for _, p := range r.players {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

func (r *Room) kindAlive(kindID int) bool {
	for _, v := range r.sim.Snapshot() {
		if v.KindID == kindID {
			return true
		}
	}
	return false
}

func comboView(s model.ComboState) ComboView {
	return ComboView{
		Counter:    s.Counter,
		Tier:       s.Tier,
		CooldownMs: s.Cooldown.Milliseconds(),
	}
}

// --- public API: every method below funnels into the actor channel ---

// Join registers a connection (and its subscriber) with the room and
// returns the initial snapshot.
func (r *Room) Join(connID, identity string, sub *Subscriber) (model.Player, StatePayload, error) {
	reply := make(chan joinReply, 1)
	if !r.send(joinCmd{connID: connID, identity: identity, sub: sub, reply: reply}) {
		return model.Player{}, StatePayload{}, ErrRoomClosed
	}
	res := <-reply
	return res.player, res.state, res.err
}

// Leave removes a connection. Accumulated points survive.
func (r *Room) Leave(connID string) {
	r.send(leaveCmd{connID: connID})
}

// Capture submits a capture attempt and waits for its resolution.
func (r *Room) Capture(connID string, req verify.Request) (CaptureResultPayload, error) {
	reply := make(chan captureReply, 1)
	if !r.send(captureCmd{connID: connID, req: req, reply: reply}) {
		return CaptureResultPayload{}, ErrRoomClosed
	}
	res := <-reply
	return res.result, res.err
}

// Leaderboard returns the room's top players by total reward.
func (r *Room) Leaderboard() []model.LeaderboardEntry {
	reply := make(chan []model.LeaderboardEntry, 1)
	if !r.send(leaderboardCmd{reply: reply}) {
		return nil
	}
	return <-reply
}

// Points returns a copy of the accumulated points per identity.
func (r *Room) Points() map[string]int64 {
	reply := make(chan map[string]int64, 1)
	if !r.send(pointsCmd{reply: reply}) {
		return nil
	}
	return <-reply
}

// RecordCapture credits reward points to an identity directly. Normally the
// capture pipeline does this itself; this entry point exists for recovery
// tooling and tests.
func (r *Room) RecordCapture(identity string, reward int64) {
	r.send(recordCmd{identity: identity, reward: reward})
}

// Freeze stops further captures and returns the final points. With
// requirePoints set, a room with zero total points is left live and
// ErrNoPointsEarned is returned.
func (r *Room) Freeze(requirePoints bool) (map[string]int64, error) {
	reply := make(chan freezeReply, 1)
	if !r.send(freezeCmd{requirePoints: requirePoints, reply: reply}) {
		return nil, ErrRoomClosed
	}
	res := <-reply
	return res.points, res.err
}

// Unfreeze re-admits captures after a failed settlement write.
func (r *Room) Unfreeze() {
	r.send(unfreezeCmd{})
}

// SetPaused toggles simulation advance without dropping any state.
func (r *Room) SetPaused(paused bool) {
	r.send(pauseCmd{paused: paused})
}

func (r *Room) send(cmd any) bool {
	select {
	case r.inbox <- cmd:
		return true
	case <-r.quit:
		return false
	}
}
