package domain

import "time"

// Push event kinds.
const (
	EventData           = "data"
	EventUserDeleted    = "user_deleted"
	EventSessionStarted = "session_started"
	EventSessionChanged = "session_changed"
	EventSessionEnded   = "session_ended"
	EventDPSCleared     = "dps_cleared"
)

// Envelope is the frame written to every push subscriber.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DataEvent carries incremental player and skill updates keyed by uid.
type DataEvent struct {
	User   map[int64]Player        `json:"user"`
	Skills map[int64]UserSkillData `json:"skills,omitempty"`
}

type UserDeletedEvent struct {
	UID int64 `json:"uid"`
}

type SessionStartedEvent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	StartedAt   int64       `json:"startedAt"`
	ReasonStart StartReason `json:"reasonStart"`
}

type SessionChangedEvent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	StartedAt   int64       `json:"startedAt"`
	ReasonStart StartReason `json:"reasonStart"`
	InstanceID  *int64      `json:"instanceId"`
	Seq         int64       `json:"seq"`
}

type SessionEndedEvent struct {
	Reason EndReason `json:"reason"`
	At     int64     `json:"at"`
}

type ClearedEvent struct {
	At int64 `json:"at"`
}

// Millis converts t to the unix-millisecond form used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
