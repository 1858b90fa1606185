// Package aggregate owns the live per-player state of the active session.
package aggregate

import (
	"errors"
	"sync"
	"time"

	"combat-meter/internal/domain"
)

var (
	ErrInvalidID    = errors.New("invalid player id")
	ErrUserNotFound = errors.New("user not found")
)

// MergeFunc canonicalizes a raw skill map. It must not modify its input.
type MergeFunc func(map[string]domain.Skill) map[string]domain.Skill

// Snapshot is a deep copy of the store. Skills are canonicalized.
type Snapshot struct {
	StartedAt time.Time
	Players   map[int64]domain.Player
	Skills    map[int64]map[string]domain.Skill
}

// Store holds players, raw skill counters and damage-taken timelines. Skills
// are kept unmerged; merge runs on every read.
type Store struct {
	mu         sync.RWMutex
	players    map[int64]*domain.Player
	skills     map[int64]map[string]domain.Skill
	timelines  map[int64]*timeline
	startedAt  time.Time
	lastUpdate time.Time
	epoch      uint64

	merge MergeFunc
	now   func() time.Time
}

func New(merge MergeFunc) *Store {
	return NewWithClock(merge, time.Now)
}

func NewWithClock(merge MergeFunc, now func() time.Time) *Store {
	if merge == nil {
		merge = domain.CloneSkills
	}
	s := &Store{merge: merge, now: now}
	s.reset(now())
	return s
}

func (s *Store) reset(at time.Time) {
	s.players = make(map[int64]*domain.Player)
	s.skills = make(map[int64]map[string]domain.Skill)
	s.timelines = make(map[int64]*timeline)
	s.startedAt = at
	s.lastUpdate = time.Time{}
	s.epoch++
}

func (s *Store) player(id int64) *domain.Player {
	p, ok := s.players[id]
	if !ok {
		p = &domain.Player{ID: id}
		s.players[id] = p
	}
	return p
}

// ApplyUserUpdate merges a partial player record.
func (s *Store) ApplyUserUpdate(id int64, u domain.PlayerUpdate) error {
	if id <= 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.player(id).Apply(u)

	if len(u.DamageTaken) > 0 {
		tl, ok := s.timelines[id]
		if !ok {
			tl = &timeline{}
			s.timelines[id] = tl
		}
		for _, ev := range u.DamageTaken {
			if ev.At.IsZero() {
				ev.At = s.now()
			}
			tl.add(ev)
		}
		tl.evict(s.now())
	}

	s.lastUpdate = s.now()
	return nil
}

// ApplySkillUpdate accumulates per-skill deltas into raw storage.
func (s *Store) ApplySkillUpdate(id int64, deltas map[string]domain.Skill) error {
	if id <= 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.player(id)
	raw, ok := s.skills[id]
	if !ok {
		raw = make(map[string]domain.Skill, len(deltas))
		s.skills[id] = raw
	}
	for skillID, d := range deltas {
		cur := raw[skillID]
		cur.Accumulate(d)
		raw[skillID] = cur
	}

	s.lastUpdate = s.now()
	return nil
}

// RemoveUser drops a player and everything recorded for it.
func (s *Store) RemoveUser(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.players[id]
	delete(s.players, id)
	delete(s.skills, id)
	delete(s.timelines, id)
	return ok
}

// Reset discards all state and marks a new session boundary at at.
func (s *Store) Reset(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(at)
}

func (s *Store) ClearAll() {
	s.Reset(s.now())
}

// Snapshot returns a point-in-time copy that shares nothing with the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// SnapshotAndReset copies the store and starts a new boundary at at under one
// write lock. An update lands either in the returned snapshot or after the
// reset, never in neither.
func (s *Store) SnapshotAndReset(at time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	s.reset(at)
	return snap
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		StartedAt: s.startedAt,
		Players:   make(map[int64]domain.Player, len(s.players)),
		Skills:    make(map[int64]map[string]domain.Skill, len(s.skills)),
	}
	for id, p := range s.players {
		snap.Players[id] = p.Clone()
	}
	for id, raw := range s.skills {
		snap.Skills[id] = s.merge(raw)
	}
	return snap
}

// Epoch changes on every reset.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Collect reads the listed players and their skill data in one pass. Ids not
// in the store are skipped. The epoch identifies the boundary the reads
// belong to.
func (s *Store) Collect(ids []int64) (map[int64]domain.Player, map[int64]domain.UserSkillData, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make(map[int64]domain.Player, len(ids))
	skills := make(map[int64]domain.UserSkillData, len(ids))
	now := s.now()
	for _, id := range ids {
		p, ok := s.players[id]
		if !ok {
			continue
		}
		players[id] = p.Clone()
		skills[id] = s.userSkillDataLocked(id, p, now)
	}
	return players, skills, s.epoch
}

// IfEpoch runs fn while holding off resets, but only if none happened since
// epoch was read. fn must not call back into the store.
func (s *Store) IfEpoch(epoch uint64, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.epoch != epoch {
		return false
	}
	fn()
	return true
}

func (s *Store) Players() map[int64]domain.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.Player, len(s.players))
	for id, p := range s.players {
		out[id] = p.Clone()
	}
	return out
}

func (s *Store) Player(id int64) (domain.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return domain.Player{}, false
	}
	return p.Clone(), true
}

// Skills returns the canonicalized skills of one player.
func (s *Store) Skills(id int64) map[string]domain.Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merge(s.skills[id])
}

// RawSkills returns the stored, unmerged counters of one player.
func (s *Store) RawSkills(id int64) map[string]domain.Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneSkills(s.skills[id])
}

func (s *Store) UserSkillData(id int64) (domain.UserSkillData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return domain.UserSkillData{}, ErrUserNotFound
	}
	return s.userSkillDataLocked(id, p, s.now()), nil
}

func (s *Store) userSkillDataLocked(id int64, p *domain.Player, now time.Time) domain.UserSkillData {
	data := domain.UserSkillData{
		UID:                 id,
		Name:                p.Name,
		Profession:          p.Profession,
		Skills:              s.merge(s.skills[id]),
		DamageTakenTimeline: []domain.TimelineWindow{},
	}
	if tl, ok := s.timelines[id]; ok {
		data.DamageTakenTimeline = tl.windows(s.startedAt, now)
	}
	return data
}

// ActiveCount is the number of players with recorded activity.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.players {
		if p.HasActivity() {
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

func (s *Store) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// LastUpdate is zero until the first update after a reset.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}
