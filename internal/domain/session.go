package domain

import "time"

type EndReason string

const (
	EndManualClear      EndReason = "manual_clear"
	EndManualRestart    EndReason = "manual_restart"
	EndInstanceChanged  EndReason = "instance_changed"
	EndEncounterTimeout EndReason = "encounter_timeout"
)

type StartReason string

const (
	StartStartup          StartReason = "startup"
	StartManualRestart    StartReason = "manual_restart"
	StartInstanceChanged  StartReason = "instance_changed"
	StartEncounterTimeout StartReason = "encounter_timeout"
)

type Session struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	StartedAt   time.Time        `json:"startedAt"`
	EndedAt     *time.Time       `json:"endedAt"`
	DurationMs  int64            `json:"durationMs"`
	ReasonStart StartReason      `json:"reasonStart"`
	ReasonEnd   EndReason        `json:"reasonEnd,omitempty"`
	Seq         int64            `json:"seq"`
	InstanceID  *int64           `json:"instanceId"`
	MapName     string           `json:"mapName,omitempty"`
	PartySize   int              `json:"partySize"`
	Snapshot    *SessionSnapshot `json:"snapshot,omitempty"`
}

func (s Session) Active() bool {
	return s.EndedAt == nil
}

// PlayerSummary is the compact per-player line stored with a session.
type PlayerSummary struct {
	UID           int64   `json:"uid"`
	Name          string  `json:"name"`
	Profession    string  `json:"profession"`
	SubProfession string  `json:"subProfession,omitempty"`
	TotalDamage   float64 `json:"totalDamage"`
	TotalHealing  float64 `json:"totalHealing"`
	TakenDamage   float64 `json:"takenDamage"`
	DPS           float64 `json:"dps"`
	HPS           float64 `json:"hps"`
	FightPoint    int64   `json:"fightPoint"`
	DeadCount     int     `json:"deadCount"`
}

// UserDetail keeps enough per-player data to rebuild a detail payload later.
type UserDetail struct {
	UID           int64            `json:"uid"`
	Name          string           `json:"name"`
	Profession    string           `json:"profession"`
	SubProfession string           `json:"subProfession,omitempty"`
	Player        Player           `json:"player"`
	Skills        map[string]Skill `json:"skills"`
}

type SessionSnapshot struct {
	UsersAgg map[int64]Player      `json:"usersAgg"`
	Players  []PlayerSummary       `json:"players"`
	Users    map[string]UserDetail `json:"users"`
}

// SessionSummary is the listing row; it omits the snapshot.
type SessionSummary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	StartedAt   time.Time   `json:"startedAt"`
	EndedAt     *time.Time  `json:"endedAt"`
	DurationMs  int64       `json:"durationMs"`
	ReasonStart StartReason `json:"reasonStart"`
	ReasonEnd   EndReason   `json:"reasonEnd"`
	Seq         int64       `json:"seq"`
	InstanceID  *int64      `json:"instanceId"`
	PartySize   int         `json:"partySize"`
}
