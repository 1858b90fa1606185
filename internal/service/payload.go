package service

import (
	"context"
	"errors"
	"strconv"

	"combat-meter/internal/detail"
	"combat-meter/internal/domain"

	"github.com/rs/zerolog"
)

var ErrUserNotInSession = errors.New("user not found in session snapshot")

type SessionReader interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
}

type SkillMerger interface {
	Merge(map[string]domain.Skill) map[string]domain.Skill
}

// PayloadService rebuilds detail payloads from archived sessions.
type PayloadService struct {
	sessions SessionReader
	merger   SkillMerger
	logger   zerolog.Logger
}

func NewPayloadService(sessions SessionReader, merger SkillMerger, logger zerolog.Logger) *PayloadService {
	return &PayloadService{sessions: sessions, merger: merger, logger: logger}
}

func (s *PayloadService) Historical(ctx context.Context, sessionID string, uid int64) (*detail.Payload, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Snapshot == nil {
		return nil, ErrUserNotInSession
	}

	if u, ok := sess.Snapshot.Users[strconv.FormatInt(uid, 10)]; ok {
		p := u.Player
		if p.ID == 0 {
			p.ID = uid
		}
		if p.Name == "" {
			p.Name = u.Name
		}
		if p.Profession == "" {
			p.Profession = u.Profession
		}
		return detail.Build(p, s.merger.Merge(u.Skills)), nil
	}

	// older snapshots only carry the summary rows
	for _, row := range sess.Snapshot.Players {
		if row.UID != uid {
			continue
		}
		p, ok := sess.Snapshot.UsersAgg[uid]
		if !ok {
			p = domain.Player{
				ID:           uid,
				Name:         row.Name,
				Profession:   row.Profession,
				TotalDamage:  row.TotalDamage,
				TotalHealing: row.TotalHealing,
				TakenDamage:  row.TakenDamage,
			}
		}
		s.logger.Debug().Str("session_id", sessionID).Int64("uid", uid).Msg("payload rebuilt without skill data")
		return detail.Build(p, nil), nil
	}

	return nil, ErrUserNotInSession
}
