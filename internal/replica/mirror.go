// Package replica keeps a client-side mirror of the aggregate, ranks it and
// reconciles the ranked list against a rendering surface.
package replica

import (
	"sync"

	"combat-meter/internal/domain"
)

// Mirror is the replica's copy of the server's players and skill data.
type Mirror struct {
	mu      sync.RWMutex
	players map[int64]domain.Player
	skills  map[int64]domain.UserSkillData
}

func NewMirror() *Mirror {
	return &Mirror{
		players: make(map[int64]domain.Player),
		skills:  make(map[int64]domain.UserSkillData),
	}
}

// Apply merges a data event and returns the ids it touched.
func (m *Mirror) Apply(ev domain.DataEvent) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make([]int64, 0, len(ev.User))
	for uid, incoming := range ev.User {
		p, ok := m.players[uid]
		if !ok {
			p = domain.Player{ID: uid}
		}
		p.Merge(incoming)
		p.ID = uid
		m.players[uid] = p
		touched = append(touched, uid)
	}
	for uid, data := range ev.Skills {
		data.Skills = domain.CloneSkills(data.Skills)
		m.skills[uid] = data
	}
	return touched
}

// Replace swaps the whole mirror for a freshly fetched aggregate. Skill data
// for players that survive is kept.
func (m *Mirror) Replace(users map[int64]domain.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()

	players := make(map[int64]domain.Player, len(users))
	for uid, p := range users {
		p = p.Clone()
		p.ID = uid
		players[uid] = p
	}
	for uid := range m.skills {
		if _, ok := players[uid]; !ok {
			delete(m.skills, uid)
		}
	}
	m.players = players
}

// SetSkillData stores fetched skill data for a player already in the mirror.
func (m *Mirror) SetSkillData(uid int64, data domain.UserSkillData) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[uid]; !ok {
		return false
	}
	data.Skills = domain.CloneSkills(data.Skills)
	m.skills[uid] = data
	return true
}

func (m *Mirror) Remove(uid int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.players[uid]
	delete(m.players, uid)
	delete(m.skills, uid)
	return ok
}

func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.players)
	clear(m.skills)
}

func (m *Mirror) Player(uid int64) (domain.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[uid]
	return p.Clone(), ok
}

func (m *Mirror) Players() map[int64]domain.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]domain.Player, len(m.players))
	for uid, p := range m.players {
		out[uid] = p.Clone()
	}
	return out
}

func (m *Mirror) SkillData(uid int64) (domain.UserSkillData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.skills[uid]
	if !ok {
		return domain.UserSkillData{}, false
	}
	data.Skills = domain.CloneSkills(data.Skills)
	return data, true
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}
