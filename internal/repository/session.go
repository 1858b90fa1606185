package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"combat-meter/internal/constants"
	"combat-meter/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already archived")
	ErrSessionNotEnded = errors.New("cannot archive a session that has not ended")
)

// SessionRepository is the archive of finished sessions. Rows are written
// once and never updated.
type SessionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSessionRepository(sqlDB *sql.DB, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{db: sqlDB, logger: logger}
}

func (r *SessionRepository) Save(ctx context.Context, s *domain.Session) error {
	if s.EndedAt == nil {
		return ErrSessionNotEnded
	}
	if s.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		s.ID = id
	}

	snapshot, err := json.Marshal(s.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var instanceID sql.NullInt64
	if s.InstanceID != nil {
		instanceID = sql.NullInt64{Int64: *s.InstanceID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, name, started_at, ended_at, duration_ms, reason_start, reason_end,
			seq, instance_id, map_name, party_size, snapshot, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.StartedAt.UnixMilli(), s.EndedAt.UnixMilli(), s.DurationMs,
		string(s.ReasonStart), string(s.ReasonEnd), s.Seq, instanceID, s.MapName,
		s.PartySize, string(snapshot), time.Now().UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrSessionExists
		}
		r.logger.Error().Err(err).Str("session_id", s.ID).Msg("failed to insert session")
		return fmt.Errorf("failed to insert session: %w", err)
	}

	r.logger.Debug().Str("session_id", s.ID).Int("party_size", s.PartySize).Msg("session archived")
	return nil
}

// List returns the most recent sessions first, without snapshots.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = constants.SessionListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, started_at, ended_at, duration_ms, reason_start, reason_end,
		       seq, instance_id, party_size, json_array_length(snapshot, '$.players')
		FROM sessions
		ORDER BY started_at DESC, seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var (
			s            domain.SessionSummary
			started      int64
			ended        int64
			reasonStart  string
			reasonEnd    string
			instanceID   sql.NullInt64
			partySize    sql.NullInt64
			snapshotSize sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Name, &started, &ended, &s.DurationMs, &reasonStart,
			&reasonEnd, &s.Seq, &instanceID, &partySize, &snapshotSize); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = time.UnixMilli(started)
		endedAt := time.UnixMilli(ended)
		s.EndedAt = &endedAt
		s.ReasonStart = domain.StartReason(reasonStart)
		s.ReasonEnd = domain.EndReason(reasonEnd)
		if instanceID.Valid {
			id := instanceID.Int64
			s.InstanceID = &id
		}
		s.PartySize = derivePartySize(partySize, int(snapshotSize.Int64))
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var (
		s           domain.Session
		started     int64
		ended       int64
		reasonStart string
		reasonEnd   string
		instanceID  sql.NullInt64
		partySize   sql.NullInt64
		snapshot    string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, started_at, ended_at, duration_ms, reason_start, reason_end,
		       seq, instance_id, map_name, party_size, snapshot
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &started, &ended, &s.DurationMs, &reasonStart, &reasonEnd,
			&s.Seq, &instanceID, &s.MapName, &partySize, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.StartedAt = time.UnixMilli(started)
	endedAt := time.UnixMilli(ended)
	s.EndedAt = &endedAt
	s.ReasonStart = domain.StartReason(reasonStart)
	s.ReasonEnd = domain.EndReason(reasonEnd)
	if instanceID.Valid {
		v := instanceID.Int64
		s.InstanceID = &v
	}

	s.Snapshot = &domain.SessionSnapshot{}
	if err := json.Unmarshal([]byte(snapshot), s.Snapshot); err != nil {
		r.logger.Warn().Err(err).Str("session_id", id).Msg("failed to decode session snapshot")
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	s.PartySize = derivePartySize(partySize, len(s.Snapshot.Players))
	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// rows written before party_size existed fall back to the snapshot's players
func derivePartySize(stored sql.NullInt64, snapshotPlayers int) int {
	if stored.Valid {
		return int(stored.Int64)
	}
	return snapshotPlayers
}
