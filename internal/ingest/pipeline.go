// Package ingest applies capture batches to the aggregate store and paces the
// resulting data events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"combat-meter/internal/aggregate"
	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	"combat-meter/internal/domain"
	"combat-meter/internal/metrics"
	"combat-meter/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrMalformedUpdate = errors.New("malformed update")

// InstanceChange reports that the local player entered another game instance.
type InstanceChange struct {
	ID      int64  `json:"id"`
	MapName string `json:"mapName,omitempty"`
}

// Batch is one delivery from the capture layer.
type Batch struct {
	Users    map[int64]domain.PlayerUpdate     `json:"users,omitempty"`
	Skills   map[int64]map[string]domain.Skill `json:"skills,omitempty"`
	Removed  []int64                           `json:"removed,omitempty"`
	Instance *InstanceChange                   `json:"instance,omitempty"`
}

// Source is the capture collaborator. Batches is closed when it stops.
type Source interface {
	Batches() <-chan Batch
}

type Publisher interface {
	Publish(kind string, payload any)
}

type Lifecycle interface {
	OnInstanceChanged(ctx context.Context, instanceID int64, mapName string) (service.Transition, bool, error)
	EncounterTimeout(ctx context.Context, idle time.Duration) (service.Transition, bool, error)
}

type Result struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Removed  int `json:"removed"`
}

type Pipeline struct {
	store     *aggregate.Store
	pub       Publisher
	lifecycle Lifecycle
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	encounterTimeout time.Duration
	limiter          *rate.Limiter
	paused           atomic.Bool

	mu    sync.Mutex
	dirty map[int64]struct{}
}

func NewPipeline(
	cfg *config.Config,
	store *aggregate.Store,
	pub Publisher,
	lifecycle Lifecycle,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Pipeline {
	interval := cfg.BroadcastInterval
	if interval <= 0 {
		interval = constants.BroadcastInterval
	}
	p := &Pipeline{
		store:            store,
		pub:              pub,
		lifecycle:        lifecycle,
		metrics:          m,
		logger:           logger,
		encounterTimeout: cfg.EncounterTimeout,
		limiter:          rate.NewLimiter(rate.Every(interval), 1),
		dirty:            make(map[int64]struct{}),
	}
	p.paused.Store(cfg.StartPaused)
	return p
}

func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

func (p *Pipeline) SetPaused(paused bool) {
	if p.paused.Swap(paused) != paused {
		p.logger.Info().Bool("paused", paused).Msg("statistics pause toggled")
	}
}

// Apply applies one batch. Items are independent: a bad item is reported in
// the returned error and the rest of the batch still lands.
func (p *Pipeline) Apply(ctx context.Context, b Batch) (Result, error) {
	var (
		res  Result
		errs error
	)

	if b.Instance != nil {
		if _, _, err := p.lifecycle.OnInstanceChanged(ctx, b.Instance.ID, b.Instance.MapName); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("instance %d: %w", b.Instance.ID, err))
		} else {
			p.clearDirty()
		}
	}

	for _, uid := range b.Removed {
		if p.store.RemoveUser(uid) {
			res.Removed++
		}
		p.mu.Lock()
		delete(p.dirty, uid)
		p.mu.Unlock()
		p.pub.Publish(domain.EventUserDeleted, domain.UserDeletedEvent{UID: uid})
	}

	if p.Paused() {
		dropped := len(b.Users) + len(b.Skills)
		if dropped > 0 {
			p.metrics.UpdatesRejected.WithLabelValues("paused").Add(float64(dropped))
			p.logger.Debug().Int("dropped", dropped).Msg("statistics paused, updates dropped")
		}
		res.Rejected += dropped
		return res, errs
	}

	for uid, u := range b.Users {
		if err := p.applyUser(uid, u); err != nil {
			res.Rejected++
			p.metrics.UpdatesRejected.WithLabelValues("user").Inc()
			p.logger.Warn().Err(err).Int64("uid", uid).Msg("user update rejected")
			errs = multierr.Append(errs, fmt.Errorf("user %d: %w", uid, err))
			continue
		}
		res.Accepted++
		p.metrics.UpdatesApplied.WithLabelValues("user").Inc()
		p.markDirty(uid)
	}

	for uid, skills := range b.Skills {
		if err := p.applySkills(uid, skills); err != nil {
			res.Rejected++
			p.metrics.UpdatesRejected.WithLabelValues("skill").Inc()
			p.logger.Warn().Err(err).Int64("uid", uid).Msg("skill update rejected")
			errs = multierr.Append(errs, fmt.Errorf("skills %d: %w", uid, err))
			continue
		}
		res.Accepted++
		p.metrics.UpdatesApplied.WithLabelValues("skill").Inc()
		p.markDirty(uid)
	}

	return res, errs
}

func (p *Pipeline) applyUser(uid int64, u domain.PlayerUpdate) error {
	for _, v := range []*float64{u.TotalDamage, u.TotalHealing, u.TakenDamage, u.RawTakenDamage, u.DPS, u.HPS, u.DTPS} {
		if v != nil && !validNumber(*v) {
			return ErrMalformedUpdate
		}
	}
	if u.Hits != nil && (u.Hits.Total < 0 || u.Hits.Critical < 0 || u.Hits.Lucky < 0) {
		return ErrMalformedUpdate
	}
	return p.store.ApplyUserUpdate(uid, u)
}

func (p *Pipeline) applySkills(uid int64, skills map[string]domain.Skill) error {
	for id, s := range skills {
		if id == "" || !validNumber(s.TotalDamage) || !validNumber(s.TotalHealing) || !validNumber(s.MaxHit) ||
			s.TotalCount < 0 || s.CritCount < 0 || s.LuckyCount < 0 {
			return ErrMalformedUpdate
		}
	}
	return p.store.ApplySkillUpdate(uid, skills)
}

func validNumber(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (p *Pipeline) markDirty(uid int64) {
	p.mu.Lock()
	p.dirty[uid] = struct{}{}
	p.mu.Unlock()
}

func (p *Pipeline) clearDirty() {
	p.mu.Lock()
	clear(p.dirty)
	p.mu.Unlock()
}

// Flush publishes one data event for every player touched since the last
// flush. It reports whether anything was sent.
func (p *Pipeline) Flush() bool {
	ev, epoch, ok := p.collect()
	if !ok {
		return false
	}
	return p.publish(ev, epoch)
}

func (p *Pipeline) collect() (domain.DataEvent, uint64, bool) {
	p.mu.Lock()
	if len(p.dirty) == 0 {
		p.mu.Unlock()
		return domain.DataEvent{}, 0, false
	}
	ids := make([]int64, 0, len(p.dirty))
	for uid := range p.dirty {
		ids = append(ids, uid)
	}
	clear(p.dirty)
	p.mu.Unlock()

	users, skills, epoch := p.store.Collect(ids)
	if len(users) == 0 {
		return domain.DataEvent{}, 0, false
	}
	return domain.DataEvent{User: users, Skills: skills}, epoch, true
}

// publish sends ev unless the session it was read from has ended meanwhile.
func (p *Pipeline) publish(ev domain.DataEvent, epoch uint64) bool {
	sent := p.store.IfEpoch(epoch, func() {
		p.pub.Publish(domain.EventData, ev)
	})
	if !sent {
		p.metrics.StaleFlushes.Inc()
		p.logger.Debug().Int("players", len(ev.User)).Msg("dropped data read before a session boundary")
		return false
	}
	p.metrics.ActivePlayers.Set(float64(p.store.ActiveCount()))
	return true
}

// CheckIdle ends the encounter when no update arrived for the configured
// timeout. A zero timeout disables it.
func (p *Pipeline) CheckIdle(ctx context.Context) {
	if p.encounterTimeout <= 0 {
		return
	}
	if _, fired, err := p.lifecycle.EncounterTimeout(ctx, p.encounterTimeout); err != nil {
		p.logger.Warn().Err(err).Msg("encounter timeout restart failed")
	} else if fired {
		p.clearDirty()
	}
}

// Run consumes src and flushes at the broadcast rate until ctx is done or src
// closes.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	g, ctx := errgroup.WithContext(ctx)
	batches := src.Batches()
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return nil
			case b, ok := <-batches:
				if !ok {
					p.logger.Info().Msg("capture source closed")
					return nil
				}
				if _, err := p.Apply(ctx, b); err != nil {
					p.logger.Debug().Err(err).Msg("batch applied with errors")
				}
			}
		}
	})

	g.Go(func() error {
		idle := time.NewTicker(constants.IdleCheckInterval)
		defer idle.Stop()
		for {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
			select {
			case <-done:
				p.Flush()
				return nil
			case <-idle.C:
				p.CheckIdle(ctx)
			default:
			}
			p.Flush()
		}
	})

	return g.Wait()
}

// ChanSource adapts a channel to Source.
type ChanSource chan Batch

func (c ChanSource) Batches() <-chan Batch {
	return c
}
