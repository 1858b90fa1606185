package replica

import (
	"context"
	"encoding/json"
	"sync"

	"combat-meter/internal/config"
	"combat-meter/internal/detail"
	"combat-meter/internal/domain"

	"github.com/rs/zerolog"
)

// Replica applies push events to its mirror, redraws the ranked list through
// a coalescing scheduler and feeds the detail binder.
type Replica struct {
	mirror     *Mirror
	reconciler *Reconciler
	scheduler  *Scheduler
	binder     *detail.Binder
	logger     zerolog.Logger

	mu      sync.RWMutex
	metric  Metric
	session *domain.SessionStartedEvent
}

func New(cfg *config.ClientConfig, list ListSurface, logger zerolog.Logger) *Replica {
	r := &Replica{
		mirror:     NewMirror(),
		reconciler: NewReconciler(list),
		logger:     logger,
		metric:     Metric(cfg.Tab),
	}
	r.scheduler = NewScheduler(r.redraw)
	r.binder = detail.NewBinder(r.detailPayload, detail.Options{Grace: cfg.DetailGrace}, logger)
	return r
}

func (r *Replica) Mirror() *Mirror {
	return r.mirror
}

func (r *Replica) Binder() *detail.Binder {
	return r.binder
}

func (r *Replica) Metric() Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metric
}

// SetMetric switches the tab and schedules a redraw.
func (r *Replica) SetMetric(m Metric) {
	r.mu.Lock()
	r.metric = m
	r.mu.Unlock()
	r.scheduler.Request()
}

func (r *Replica) Session() (domain.SessionStartedEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return domain.SessionStartedEvent{}, false
	}
	return *r.session, true
}

// HandleEvent dispatches one push event. Detail pushes go out only after the
// mirror holds the data they are built from.
func (r *Replica) HandleEvent(kind string, data json.RawMessage) {
	switch kind {
	case domain.EventData:
		var ev domain.DataEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn().Err(err).Msg("malformed data event")
			return
		}
		for _, uid := range r.mirror.Apply(ev) {
			r.binder.Notify(uid)
		}
		r.scheduler.Request()

	case domain.EventUserDeleted:
		var ev domain.UserDeletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn().Err(err).Msg("malformed user_deleted event")
			return
		}
		r.mirror.Remove(ev.UID)
		r.binder.OnUserDeleted(ev.UID)
		r.scheduler.Request()

	case domain.EventSessionStarted:
		var ev domain.SessionStartedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn().Err(err).Msg("malformed session_started event")
			return
		}
		r.mu.Lock()
		r.session = &ev
		r.mu.Unlock()
		r.mirror.Clear()
		r.scheduler.Request()
		r.logger.Info().Str("session_id", ev.ID).Str("name", ev.Name).Msg("session started")

	case domain.EventDPSCleared:
		r.mirror.Clear()
		r.scheduler.Request()

	case domain.EventSessionChanged, domain.EventSessionEnded:
		r.logger.Debug().Str("kind", kind).RawJSON("data", data).Msg("session event")

	default:
		r.logger.Debug().Str("kind", kind).Msg("ignoring unknown event")
	}
}

// Resync replaces the mirror after a (re)connect.
func (r *Replica) Resync(users map[int64]domain.Player, skills map[int64]domain.UserSkillData) {
	r.mirror.Replace(users)
	for uid, data := range skills {
		r.mirror.SetSkillData(uid, data)
	}
	for uid := range users {
		r.binder.Notify(uid)
	}
	r.scheduler.Request()
}

func (r *Replica) DetailUID() int64 {
	return r.binder.BoundUID()
}

// Rows ranks the mirror for the current tab.
func (r *Replica) Rows() []Row {
	return Rank(r.mirror.Players(), r.Metric())
}

func (r *Replica) redraw() {
	d := r.reconciler.Reconcile(r.Rows())
	if !d.Empty() {
		r.logger.Debug().
			Int("created", len(d.Created)).
			Int("moved", len(d.Moved)).
			Int("removed", len(d.Removed)).
			Msg("list reconciled")
	}
}

// Redraw requests a reconciliation pass.
func (r *Replica) Redraw() {
	r.scheduler.Request()
}

// Run drives redraw passes until ctx is done.
func (r *Replica) Run(ctx context.Context) error {
	defer r.binder.Release()
	return r.scheduler.Run(ctx)
}

// OpenDetail binds surface to uid's breakdown.
func (r *Replica) OpenDetail(uid int64, surface detail.Surface) error {
	return r.binder.Open(uid, surface)
}

func (r *Replica) detailPayload(uid int64) (*detail.Payload, bool) {
	p, ok := r.mirror.Player(uid)
	if !ok {
		return nil, false
	}
	data, _ := r.mirror.SkillData(uid)
	return detail.Build(p, data.Skills), true
}

// SkillRows is the live skill breakdown of uid for the current tab.
func (r *Replica) SkillRows(uid int64) []SkillRow {
	data, _ := r.mirror.SkillData(uid)
	return SkillRows(data.Skills, r.Metric())
}

func (r *Replica) TankView(uid int64) (TankView, bool) {
	p, ok := r.mirror.Player(uid)
	if !ok {
		return TankView{}, false
	}
	data, _ := r.mirror.SkillData(uid)
	return BuildTankView(p, data), true
}
