package replica

import (
	"cmp"
	"slices"
	"strings"

	"combat-meter/internal/constants"
	"combat-meter/internal/domain"
)

type SkillRow struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	SharePct float64 `json:"sharePct"`
	Hits     int64   `json:"hits"`
	CritRate float64 `json:"critRate"`
	LuckRate float64 `json:"luckRate"`
	MaxHit   float64 `json:"maxHit"`
}

func skillValue(s domain.Skill, metric Metric) float64 {
	if metric == MetricHeal {
		return s.TotalHealing
	}
	return s.TotalDamage + s.TotalHealing
}

// SkillRows is the live per-skill breakdown for the dps and heal views.
func SkillRows(skills map[string]domain.Skill, metric Metric) []SkillRow {
	rows := make([]SkillRow, 0, len(skills))
	var total float64
	for id, s := range skills {
		v := skillValue(s, metric)
		if v <= 0 {
			continue
		}
		total += v
		name := s.DisplayName
		if name == "" {
			name = id
		}
		rows = append(rows, SkillRow{
			ID:       id,
			Name:     name,
			Value:    v,
			Hits:     s.TotalCount,
			CritRate: percent(float64(s.CritCount), float64(s.TotalCount)),
			LuckRate: percent(float64(s.LuckyCount), float64(s.TotalCount)),
			MaxHit:   s.MaxHit,
		})
	}
	slices.SortFunc(rows, func(a, b SkillRow) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for i := range rows {
		rows[i].SharePct = percent(rows[i].Value, total)
	}
	return rows
}

// TankView replaces the skill rows in the tank tab.
type TankView struct {
	Timeline   []domain.TimelineWindow `json:"timeline"`
	Deaths     []domain.DeathEvent     `json:"deaths"`
	Mitigation float64                 `json:"mitigation"`
}

func BuildTankView(p domain.Player, data domain.UserSkillData) TankView {
	deaths := p.Deaths
	if n := len(deaths); n > constants.DeathHistoryLimit {
		deaths = deaths[n-constants.DeathHistoryLimit:]
	}
	v := TankView{
		Timeline:   data.DamageTakenTimeline,
		Deaths:     slices.Clone(deaths),
		Mitigation: Mitigation(p),
	}
	if v.Timeline == nil {
		v.Timeline = []domain.TimelineWindow{}
	}
	return v
}

func CritRate(p domain.Player) float64 {
	return percent(float64(p.Hits.Critical), float64(p.Hits.Total))
}

func LuckRate(p domain.Player) float64 {
	return percent(float64(p.Hits.Lucky), float64(p.Hits.Total))
}

// Mitigation is the share of raw incoming damage that was not taken.
func Mitigation(p domain.Player) float64 {
	if p.RawTakenDamage <= 0 {
		return 0
	}
	return max(0, min(100, (p.RawTakenDamage-p.TakenDamage)/p.RawTakenDamage*100))
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
