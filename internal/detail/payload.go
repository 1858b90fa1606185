// Package detail builds per-player skill breakdowns and pushes them to a bound
// detail surface.
package detail

import (
	"cmp"
	"slices"
	"strings"

	"combat-meter/internal/domain"
)

type Item struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Damage       float64 `json:"damage"`
	Heal         float64 `json:"heal"`
	TotalDamage  float64 `json:"totalDamage"`
	TotalHealing float64 `json:"totalHealing"`
	Casts        int64   `json:"casts"`
	Hits         int64   `json:"hits"`
	CritHits     int64   `json:"critHits"`
	LuckyHits    int64   `json:"luckyHits"`
	Avg          float64 `json:"avg"`
	CritRate     float64 `json:"critRate"`
	LuckRate     float64 `json:"luckRate"`
	MaxHit       float64 `json:"maxHit"`
}

type Payload struct {
	UID      int64         `json:"uid"`
	User     domain.Player `json:"user"`
	Items    []Item        `json:"items"`
	Total    float64       `json:"total"`
	ClassKey string        `json:"classKey"`
}

// Build turns a player and its canonical skills into a detail payload. Skills
// with neither damage nor healing are left out; items are ordered by output.
func Build(p domain.Player, skills map[string]domain.Skill) *Payload {
	items := make([]Item, 0, len(skills))
	var total float64

	for id, s := range skills {
		if s.TotalDamage == 0 && s.TotalHealing == 0 {
			continue
		}
		hits := s.TotalCount
		value := s.TotalDamage
		if value == 0 {
			value = s.TotalHealing
		}
		name := s.DisplayName
		if name == "" {
			name = id
		}
		items = append(items, Item{
			ID:           id,
			Name:         name,
			Type:         strings.ToLower(s.Type),
			Damage:       s.TotalDamage,
			Heal:         s.TotalHealing,
			TotalDamage:  s.TotalDamage,
			TotalHealing: s.TotalHealing,
			Casts:        hits,
			Hits:         hits,
			CritHits:     s.CritCount,
			LuckyHits:    s.LuckyCount,
			Avg:          ratio(value, float64(hits)),
			CritRate:     ratio(float64(s.CritCount), float64(hits)) * 100,
			LuckRate:     ratio(float64(s.LuckyCount), float64(hits)) * 100,
			MaxHit:       s.MaxHit,
		})
		total += s.TotalDamage
	}

	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(b.Damage+b.Heal, a.Damage+a.Heal); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if total == 0 {
		total = 1
	}
	return &Payload{
		UID:      p.ID,
		User:     p,
		Items:    items,
		Total:    total,
		ClassKey: domain.ClassKey(p.Profession),
	}
}

func ratio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}
