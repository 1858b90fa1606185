// Package skillmerge folds raw per-skill counters into canonical skills.
package skillmerge

import (
	"cmp"
	"slices"
	"strconv"

	"combat-meter/internal/domain"
)

// Group declares a primary skill id and the alias ids folded into it.
type Group struct {
	Primary string
	Aliases []string
}

func (g Group) ids() []string {
	out := make([]string, 0, len(g.Aliases)+1)
	out = append(out, g.Primary)
	for _, id := range g.Aliases {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Table is an ordered list of groups. Earlier groups win conflicts.
type Table []Group

// NewTable orders groups numerically by primary id, falling back to string
// order for non-numeric ids.
func NewTable(raw map[string][]string) Table {
	t := make(Table, 0, len(raw))
	for primary, aliases := range raw {
		t = append(t, Group{Primary: primary, Aliases: slices.Clone(aliases)})
	}
	slices.SortFunc(t, func(a, b Group) int {
		return compareIDs(a.Primary, b.Primary)
	})
	return t
}

func compareIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(an, bn)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// Field names accepted by a whitelist.
const (
	FieldTotalDamage  = "totalDamage"
	FieldTotalHealing = "totalHealing"
	FieldTotalCount   = "totalCount"
	FieldCritCount    = "critCount"
	FieldLuckyCount   = "luckyCount"
	FieldMaxHit       = "maxHit"
)

var numericFields = []struct {
	name string
	add  func(dst *domain.Skill, src domain.Skill)
}{
	{FieldTotalDamage, func(d *domain.Skill, s domain.Skill) { d.TotalDamage += s.TotalDamage }},
	{FieldTotalHealing, func(d *domain.Skill, s domain.Skill) { d.TotalHealing += s.TotalHealing }},
	{FieldTotalCount, func(d *domain.Skill, s domain.Skill) { d.TotalCount += s.TotalCount }},
	{FieldCritCount, func(d *domain.Skill, s domain.Skill) { d.CritCount += s.CritCount }},
	{FieldLuckyCount, func(d *domain.Skill, s domain.Skill) { d.LuckyCount += s.LuckyCount }},
	{FieldMaxHit, func(d *domain.Skill, s domain.Skill) { d.MaxHit += s.MaxHit }},
}

func IsField(name string) bool {
	for _, f := range numericFields {
		if f.name == name {
			return true
		}
	}
	return false
}

// Whitelist restricts which numeric fields are summed. A nil whitelist sums all.
type Whitelist map[string]struct{}

func NewWhitelist(fields []string) Whitelist {
	if len(fields) == 0 {
		return nil
	}
	w := make(Whitelist, len(fields))
	for _, f := range fields {
		w[f] = struct{}{}
	}
	return w
}

func (w Whitelist) allows(field string) bool {
	if w == nil {
		return true
	}
	_, ok := w[field]
	return ok
}

// Merge returns a new map where every group present in skills is collapsed
// into its keep id. The input is never modified.
func Merge(skills map[string]domain.Skill, table Table, whitelist Whitelist) map[string]domain.Skill {
	result := domain.CloneSkills(skills)
	consumed := make(map[string]struct{})

	for _, g := range table {
		var present []string
		for _, id := range g.ids() {
			if _, ok := result[id]; ok {
				present = append(present, id)
			}
		}
		if len(present) == 0 {
			continue
		}
		if slices.ContainsFunc(present, func(id string) bool {
			_, taken := consumed[id]
			return taken
		}) {
			continue
		}

		keep := present[0]
		if _, ok := result[g.Primary]; ok {
			keep = g.Primary
		}

		merged := result[keep]
		for _, id := range present {
			if id == keep {
				continue
			}
			src := result[id]
			for _, f := range numericFields {
				if whitelist.allows(f.name) {
					f.add(&merged, src)
				}
			}
		}

		result[keep] = merged
		for _, id := range present {
			if id != keep {
				delete(result, id)
			}
			consumed[id] = struct{}{}
		}
	}
	return result
}
