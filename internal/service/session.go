package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"combat-meter/internal/aggregate"
	"combat-meter/internal/constants"
	"combat-meter/internal/domain"
	"combat-meter/internal/metrics"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrSessionActive = errors.New("a session is already active")

type Archive interface {
	Save(ctx context.Context, s *domain.Session) error
}

type Publisher interface {
	Publish(kind string, payload any)
}

type MapNamer interface {
	MapName(instanceID int64) (string, bool)
}

// Transition describes one end-then-start step of the lifecycle.
type Transition struct {
	Ended    *domain.Session
	Archived bool
	Started  domain.Session
}

// SessionService owns the session state machine. Transitions are serialized;
// concurrent manual clears share one transition.
type SessionService struct {
	store   *aggregate.Store
	archive Archive
	pub     Publisher
	maps    MapNamer
	metrics *metrics.Metrics
	logger  zerolog.Logger

	now   func() time.Time
	newID func() (string, error)

	mu      sync.Mutex
	flight  singleflight.Group
	current *domain.Session
	seq     int64
}

func NewSessionService(
	store *aggregate.Store,
	archive Archive,
	pub Publisher,
	maps MapNamer,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:   store,
		archive: archive,
		pub:     pub,
		maps:    maps,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		newID: func() (string, error) {
			return gonanoid.Generate(constants.SessionIDAlphabet, constants.SessionIDLength)
		},
	}
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Current returns a copy of the active session.
func (s *SessionService) Current() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Session{}, false
	}
	return *s.current, true
}

// Start opens a session from Idle.
func (s *SessionService) Start(ctx context.Context, instanceID *int64, baseName string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return domain.Session{}, ErrSessionActive
	}
	if baseName == "" {
		baseName = s.instanceName(instanceID)
	}
	return s.startLocked(domain.StartStartup, instanceID, baseName, s.now(), true)
}

// Clear archives the current session if it recorded anything, then starts a
// fresh one named after the previous map.
func (s *SessionService) Clear(ctx context.Context) (Transition, error) {
	v, err, shared := s.flight.Do("clear", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		prev := s.current
		var instanceID *int64
		if prev != nil {
			instanceID = prev.InstanceID
		}
		return s.restartLocked(ctx, domain.EndManualClear, domain.StartManualRestart, instanceID, s.baseName(prev))
	})
	if err != nil {
		return Transition{}, err
	}
	if shared {
		s.logger.Debug().Msg("clear coalesced with an in-flight clear")
	}
	return v.(Transition), nil
}

// OnInstanceChanged restarts the session when the capture layer reports a new
// game instance. A repeat of the current instance id is ignored.
func (s *SessionService) OnInstanceChanged(ctx context.Context, instanceID int64, mapName string) (Transition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.InstanceID != nil && *s.current.InstanceID == instanceID {
		return Transition{}, false, nil
	}

	id := instanceID
	base := strings.TrimSpace(mapName)
	if base == "" {
		base = s.instanceName(&id)
	}
	t, err := s.restartLocked(ctx, domain.EndInstanceChanged, domain.StartInstanceChanged, &id, base)
	if err != nil {
		return Transition{}, false, err
	}
	t.Started.MapName = base
	s.current.MapName = base

	s.pub.Publish(domain.EventSessionChanged, domain.SessionChangedEvent{
		ID:          t.Started.ID,
		Name:        t.Started.Name,
		StartedAt:   domain.Millis(t.Started.StartedAt),
		ReasonStart: t.Started.ReasonStart,
		InstanceID:  t.Started.InstanceID,
		Seq:         t.Started.Seq,
	})
	return t, true, nil
}

// EncounterTimeout restarts the session when it has recorded activity and no
// update arrived for at least idle.
func (s *SessionService) EncounterTimeout(ctx context.Context, idle time.Duration) (Transition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || idle <= 0 {
		return Transition{}, false, nil
	}
	last := s.store.LastUpdate()
	if last.IsZero() || s.now().Sub(last) < idle || s.store.ActiveCount() == 0 {
		return Transition{}, false, nil
	}

	s.logger.Info().
		Str("session_id", s.current.ID).
		Dur("idle", s.now().Sub(last)).
		Msg("encounter timed out")

	t, err := s.restartLocked(ctx, domain.EndEncounterTimeout, domain.StartEncounterTimeout, s.current.InstanceID, s.baseName(s.current))
	if err != nil {
		return Transition{}, false, err
	}
	return t, true, nil
}

// Stop returns to Idle without archiving.
func (s *SessionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.logger.Info().Str("session_id", s.current.ID).Msg("session closed without archiving")
	s.current = nil
}

func (s *SessionService) restartLocked(
	ctx context.Context,
	endReason domain.EndReason,
	startReason domain.StartReason,
	instanceID *int64,
	baseName string,
) (Transition, error) {
	var t Transition
	at := s.now()
	reset := true

	if prev := s.current; prev != nil {
		ended := *prev
		endedAt := at
		ended.EndedAt = &endedAt
		ended.DurationMs = max(0, endedAt.Sub(prev.StartedAt).Milliseconds())
		ended.ReasonEnd = endReason

		// updates arriving during the archive write belong to the next session
		snap := s.store.SnapshotAndReset(at)
		reset = false
		t.Archived = s.persistLocked(ctx, &ended, snap)
		t.Ended = &ended
		s.current = nil

		s.pub.Publish(domain.EventSessionEnded, domain.SessionEndedEvent{
			Reason: endReason,
			At:     domain.Millis(endedAt),
		})
	}

	started, err := s.startLocked(startReason, instanceID, baseName, at, reset)
	if err != nil {
		return Transition{}, err
	}
	t.Started = started

	if endReason == domain.EndManualClear {
		s.pub.Publish(domain.EventDPSCleared, domain.ClearedEvent{At: domain.Millis(s.now())})
	}
	return t, nil
}

// persistLocked writes ended to the archive when at least one player recorded
// activity. A failed write is reported and does not stop the restart.
func (s *SessionService) persistLocked(ctx context.Context, ended *domain.Session, snap aggregate.Snapshot) bool {
	ended.Snapshot = buildSnapshot(snap)
	ended.PartySize = len(ended.Snapshot.Players)

	log := s.logger.With().
		Str("session_id", ended.ID).
		Str("reason", string(ended.ReasonEnd)).
		Logger()

	if ended.PartySize == 0 {
		log.Info().Msg("skipped archive, no player recorded activity")
		return false
	}

	if err := s.archive.Save(ctx, ended); err != nil {
		log.Warn().Err(err).Msg("failed to archive session")
		s.metrics.ArchiveFailures.Inc()
		return false
	}

	s.metrics.SessionsArchived.Inc()
	log.Info().Str("name", ended.Name).Int("party_size", ended.PartySize).Msg("session archived")
	return true
}

func (s *SessionService) startLocked(
	reason domain.StartReason,
	instanceID *int64,
	baseName string,
	at time.Time,
	resetStore bool,
) (domain.Session, error) {
	id, err := s.newID()
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to generate session id: %w", err)
	}

	if resetStore {
		s.store.Reset(at)
	}
	s.seq++

	var inst *int64
	if instanceID != nil {
		v := *instanceID
		inst = &v
	}
	s.current = &domain.Session{
		ID:          id,
		Name:        SessionName(baseName, at),
		StartedAt:   at,
		ReasonStart: reason,
		Seq:         s.seq,
		InstanceID:  inst,
	}
	if name, ok := s.mapName(inst); ok {
		s.current.MapName = name
	}

	s.metrics.SessionsStarted.WithLabelValues(string(reason)).Inc()
	s.logger.Info().
		Str("session_id", id).
		Str("name", s.current.Name).
		Str("reason", string(reason)).
		Int64("seq", s.seq).
		Msg("session started")

	s.pub.Publish(domain.EventSessionStarted, domain.SessionStartedEvent{
		ID:          id,
		Name:        s.current.Name,
		StartedAt:   domain.Millis(at),
		ReasonStart: reason,
	})
	return *s.current, nil
}

func (s *SessionService) mapName(instanceID *int64) (string, bool) {
	if instanceID == nil || s.maps == nil {
		return "", false
	}
	return s.maps.MapName(*instanceID)
}

func (s *SessionService) instanceName(instanceID *int64) string {
	if name, ok := s.mapName(instanceID); ok {
		return name
	}
	return constants.DefaultSessionName
}

// baseName picks the previous map name, else the previous session name without
// its timestamp, else the default.
func (s *SessionService) baseName(prev *domain.Session) string {
	if prev == nil {
		return constants.DefaultSessionName
	}
	if name, ok := s.mapName(prev.InstanceID); ok {
		return name
	}
	if stripped := StripTimestamp(prev.Name); stripped != "" {
		return stripped
	}
	if prev.MapName != "" {
		return prev.MapName
	}
	return constants.DefaultSessionName
}

var timestampSuffix = regexp.MustCompile(`\s*[—–/-]\s*\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}(?::\d{2})?$`)

// StripTimestamp removes a trailing " — 2025-10-26 23:59[:59]" style suffix.
func StripTimestamp(name string) string {
	return strings.TrimSpace(timestampSuffix.ReplaceAllString(name, ""))
}

func SessionName(base string, at time.Time) string {
	return base + constants.SessionNameSep + at.Format(constants.SessionNameLayout)
}

func buildSnapshot(snap aggregate.Snapshot) *domain.SessionSnapshot {
	out := &domain.SessionSnapshot{
		UsersAgg: snap.Players,
		Players:  []domain.PlayerSummary{},
		Users:    make(map[string]domain.UserDetail),
	}

	ids := make([]int64, 0, len(snap.Players))
	for id, p := range snap.Players {
		if p.HasActivity() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := snap.Players[id]
		out.Players = append(out.Players, domain.PlayerSummary{
			UID:           id,
			Name:          p.Name,
			Profession:    p.Profession,
			SubProfession: p.SubProfession,
			TotalDamage:   p.TotalDamage,
			TotalHealing:  p.TotalHealing,
			TakenDamage:   p.TakenDamage,
			DPS:           p.DPS,
			HPS:           p.HPS,
			FightPoint:    p.FightPoint,
			DeadCount:     p.DeadCount,
		})
		skills := snap.Skills[id]
		if skills == nil {
			skills = map[string]domain.Skill{}
		}
		out.Users[strconv.FormatInt(id, 10)] = domain.UserDetail{
			UID:           id,
			Name:          p.Name,
			Profession:    p.Profession,
			SubProfession: p.SubProfession,
			Player:        p,
			Skills:        skills,
		}
	}
	return out
}
