package domain

import (
	"slices"
	"strings"
	"time"
)

// names the capture layer emits before a player's name packet arrives
var unresolvedNames = []string{"", "未知", "...", "Unknown"}

func IsUnresolvedName(name string) bool {
	return slices.Contains(unresolvedNames, strings.TrimSpace(name))
}

// ResolveName keeps the richer of two display names. A new name wins unless it
// is an unresolved sentinel while the old one is concrete.
func ResolveName(old, incoming string) string {
	if IsUnresolvedName(incoming) && !IsUnresolvedName(old) {
		return old
	}
	if IsUnresolvedName(incoming) && IsUnresolvedName(old) {
		if old != "" {
			return old
		}
		return incoming
	}
	return incoming
}

type HitCount struct {
	Total    int64 `json:"total"`
	Critical int64 `json:"critical"`
	Lucky    int64 `json:"lucky"`
}

type DeathEvent struct {
	At       time.Time `json:"at"`
	Attacker string    `json:"attackerName"`
	SkillID  string    `json:"skillId"`
	Damage   float64   `json:"damage"`
}

type Player struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	Profession     string       `json:"profession"`
	SubProfession  string       `json:"subProfession"`
	TotalDamage    float64      `json:"total_damage"`
	TotalHealing   float64      `json:"total_healing"`
	TakenDamage    float64      `json:"taken_damage"`
	RawTakenDamage float64      `json:"raw_taken_damage"`
	DPS            float64      `json:"total_dps"`
	HPS            float64      `json:"total_hps"`
	DTPS           float64      `json:"taken_dps"`
	Hits           HitCount     `json:"total_count"`
	FightPoint     int64        `json:"fightPoint"`
	DeadCount      int          `json:"dead_count"`
	Deaths         []DeathEvent `json:"deaths,omitempty"`
}

// HasActivity reports whether the player recorded anything worth archiving.
func (p Player) HasActivity() bool {
	return p.TotalDamage > 0 || p.TotalHealing > 0 || p.TakenDamage > 0
}

func (p Player) Clone() Player {
	out := p
	if p.Deaths != nil {
		out.Deaths = slices.Clone(p.Deaths)
	}
	return out
}

// PlayerUpdate is a partial record; nil fields are left untouched.
type PlayerUpdate struct {
	Name           *string            `json:"name,omitempty"`
	Profession     *string            `json:"profession,omitempty"`
	SubProfession  *string            `json:"subProfession,omitempty"`
	TotalDamage    *float64           `json:"total_damage,omitempty"`
	TotalHealing   *float64           `json:"total_healing,omitempty"`
	TakenDamage    *float64           `json:"taken_damage,omitempty"`
	RawTakenDamage *float64           `json:"raw_taken_damage,omitempty"`
	DPS            *float64           `json:"total_dps,omitempty"`
	HPS            *float64           `json:"total_hps,omitempty"`
	DTPS           *float64           `json:"taken_dps,omitempty"`
	Hits           *HitCount          `json:"total_count,omitempty"`
	FightPoint     *int64             `json:"fightPoint,omitempty"`
	DamageTaken    []DamageTakenEvent `json:"damage_taken,omitempty"`
}

type DamageTakenEvent struct {
	At        time.Time `json:"at"`
	Source    string    `json:"source"`
	SkillID   string    `json:"skillId"`
	Raw       float64   `json:"raw"`
	Effective float64   `json:"effective"`
	Lethal    bool      `json:"isDead"`
}

// Apply merges u into p. Cumulative totals never move backwards.
func (p *Player) Apply(u PlayerUpdate) {
	if u.Name != nil {
		p.Name = ResolveName(p.Name, *u.Name)
	}
	if u.Profession != nil && *u.Profession != "" {
		p.Profession = *u.Profession
	}
	if u.SubProfession != nil && *u.SubProfession != "" {
		p.SubProfession = *u.SubProfession
	}
	p.TotalDamage = monotonic(p.TotalDamage, u.TotalDamage)
	p.TotalHealing = monotonic(p.TotalHealing, u.TotalHealing)
	p.TakenDamage = monotonic(p.TakenDamage, u.TakenDamage)
	p.RawTakenDamage = monotonic(p.RawTakenDamage, u.RawTakenDamage)
	if u.DPS != nil {
		p.DPS = *u.DPS
	}
	if u.HPS != nil {
		p.HPS = *u.HPS
	}
	if u.DTPS != nil {
		p.DTPS = *u.DTPS
	}
	if u.Hits != nil {
		p.Hits.Total = max(p.Hits.Total, u.Hits.Total)
		p.Hits.Critical = max(p.Hits.Critical, u.Hits.Critical)
		p.Hits.Lucky = max(p.Hits.Lucky, u.Hits.Lucky)
	}
	if u.FightPoint != nil && *u.FightPoint != 0 {
		p.FightPoint = *u.FightPoint
	}
	for _, ev := range u.DamageTaken {
		if !ev.Lethal {
			continue
		}
		p.DeadCount++
		p.Deaths = append(p.Deaths, DeathEvent{
			At:       ev.At,
			Attacker: ev.Source,
			SkillID:  ev.SkillID,
			Damage:   ev.Effective,
		})
	}
}

// Merge folds a full record received from upstream into a mirrored one using
// the same name and total rules as Apply.
func (p *Player) Merge(incoming Player) {
	name := ResolveName(p.Name, incoming.Name)
	profession := incoming.Profession
	if profession == "" {
		profession = p.Profession
	}
	sub := incoming.SubProfession
	if sub == "" {
		sub = p.SubProfession
	}
	fightPoint := incoming.FightPoint
	if fightPoint == 0 {
		fightPoint = p.FightPoint
	}
	prev := *p
	*p = incoming.Clone()
	p.Name = name
	p.Profession = profession
	p.SubProfession = sub
	p.FightPoint = fightPoint
	p.TotalDamage = max(prev.TotalDamage, p.TotalDamage)
	p.TotalHealing = max(prev.TotalHealing, p.TotalHealing)
	p.TakenDamage = max(prev.TakenDamage, p.TakenDamage)
	p.RawTakenDamage = max(prev.RawTakenDamage, p.RawTakenDamage)
	p.Hits.Total = max(prev.Hits.Total, p.Hits.Total)
	p.Hits.Critical = max(prev.Hits.Critical, p.Hits.Critical)
	p.Hits.Lucky = max(prev.Hits.Lucky, p.Hits.Lucky)
	if len(p.Deaths) < len(prev.Deaths) {
		p.Deaths = prev.Deaths
		p.DeadCount = max(p.DeadCount, prev.DeadCount)
	}
}

func monotonic(old float64, v *float64) float64 {
	if v == nil {
		return old
	}
	return max(old, *v)
}

// Skill holds one raw skill's cumulative counters for a single player.
type Skill struct {
	DisplayName  string  `json:"displayName,omitempty"`
	Type         string  `json:"type,omitempty"`
	TotalDamage  float64 `json:"totalDamage"`
	TotalHealing float64 `json:"totalHealing"`
	TotalCount   int64   `json:"totalCount"`
	CritCount    int64   `json:"critCount"`
	LuckyCount   int64   `json:"luckyCount"`
	MaxHit       float64 `json:"maxHit"`
}

// Accumulate adds a delta; MaxHit tracks the largest single hit.
func (s *Skill) Accumulate(d Skill) {
	if s.DisplayName == "" {
		s.DisplayName = d.DisplayName
	}
	if s.Type == "" {
		s.Type = d.Type
	}
	s.TotalDamage += d.TotalDamage
	s.TotalHealing += d.TotalHealing
	s.TotalCount += d.TotalCount
	s.CritCount += d.CritCount
	s.LuckyCount += d.LuckyCount
	s.MaxHit = max(s.MaxHit, d.MaxHit)
}

func CloneSkills(in map[string]Skill) map[string]Skill {
	out := make(map[string]Skill, len(in))
	for id, s := range in {
		out[id] = s
	}
	return out
}

type TimelineEvent struct {
	Source    string  `json:"source"`
	SkillID   string  `json:"skillId"`
	Raw       float64 `json:"raw"`
	Effective float64 `json:"effective"`
	Lethal    bool    `json:"isDead"`
}

// TimelineWindow is one second of damage taken.
type TimelineWindow struct {
	Second               int64           `json:"second"`
	RelativeTime         int64           `json:"relativeTime"`
	TotalRawDamage       float64         `json:"totalRawDamage"`
	TotalEffectiveDamage float64         `json:"totalEffectiveDamage"`
	Events               []TimelineEvent `json:"events"`
}

// UserSkillData is what GET /skill/:uid and data events carry per player.
type UserSkillData struct {
	UID                 int64            `json:"uid"`
	Name                string           `json:"name"`
	Profession          string           `json:"profession"`
	Skills              map[string]Skill `json:"skills"`
	DamageTakenTimeline []TimelineWindow `json:"damageTakenTimeline"`
}

var classKeys = []struct {
	needle string
	key    string
}{
	{"wind", "wind_knight"},
	{"storm", "stormblade"},
	{"frost", "frost_mage"},
	{"guardian", "heavy_guardian"},
	{"shield", "shield_knight"},
	{"mark", "marksman"},
	{"soul", "soul_musician"},
	{"verdant", "verdant_oracle"},
}

func ClassKey(profession string) string {
	p := strings.ToLower(profession)
	for _, c := range classKeys {
		if strings.Contains(p, c.needle) {
			return c.key
		}
	}
	return "default"
}
