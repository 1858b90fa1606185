package detail

import (
	"errors"
	"sync"
	"time"

	"combat-meter/internal/constants"

	"github.com/rs/zerolog"
)

const (
	MsgReady     = "details-ready"
	MsgSpellData = "spell-data"
)

type Message struct {
	Type    string   `json:"type"`
	Payload *Payload `json:"payload,omitempty"`
}

// Surface is the satellite view a binding pushes to.
type Surface interface {
	Post(Message) error
	Closed() bool
	Close() error
}

// Source rebuilds the payload for uid from current state.
type Source func(uid int64) (*Payload, bool)

type State int

const (
	Unbound State = iota
	AwaitingReady
	Bound
)

func (s State) String() string {
	switch s {
	case AwaitingReady:
		return "awaiting_ready"
	case Bound:
		return "bound"
	default:
		return "unbound"
	}
}

var ErrNoPayload = errors.New("no data for player")

type Options struct {
	Grace        time.Duration
	Retry        time.Duration
	LivenessPoll time.Duration
}

func (o Options) withDefaults() Options {
	if o.Grace <= 0 {
		o.Grace = constants.DetailGrace
	}
	if o.Retry <= 0 {
		o.Retry = constants.DetailRetry
	}
	if o.LivenessPoll <= 0 {
		o.LivenessPoll = constants.DetailLivenessPoll
	}
	return o
}

// Binder binds at most one detail surface to one player. The first payload
// goes out when the surface reports ready, or after the grace period if that
// signal is lost; later updates for the bound player are pushed as they come.
type Binder struct {
	source Source
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	uid     int64
	surface Surface
	pending *Payload
	sent    bool
	timer   *time.Timer
	stop    chan struct{}
}

func NewBinder(source Source, opts Options, logger zerolog.Logger) *Binder {
	return &Binder{
		source: source,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Open binds surface to uid, replacing any previous binding.
func (b *Binder) Open(uid int64, surface Surface) error {
	payload, ok := b.source(uid)
	if !ok {
		return ErrNoPayload
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseLocked()
	b.gen++
	b.state = AwaitingReady
	b.uid = uid
	b.surface = surface
	b.pending = payload
	b.sent = false
	b.stop = make(chan struct{})

	gen := b.gen
	b.timer = time.AfterFunc(b.opts.Grace, func() { b.fallback(gen) })
	go b.watch(gen, surface, b.stop)

	b.logger.Debug().Int64("uid", uid).Msg("detail surface opened")
	return nil
}

// Handle processes a message posted by the surface.
func (b *Binder) Handle(msg Message) {
	if msg.Type == MsgReady {
		b.Ready()
	}
}

// Ready delivers the pending payload. Repeated ready signals are ignored.
func (b *Binder) Ready() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AwaitingReady || b.sent {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	if err := b.sendPendingLocked(); err != nil {
		b.logger.Warn().Err(err).Int64("uid", b.uid).Msg("failed to send detail payload after ready")
		gen := b.gen
		b.timer = time.AfterFunc(b.opts.Retry, func() { b.fallback(gen) })
	}
}

func (b *Binder) fallback(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen || b.state != AwaitingReady || b.sent {
		return
	}
	b.logger.Debug().Int64("uid", b.uid).Msg("detail ready signal missing, sending anyway")
	if err := b.sendPendingLocked(); err != nil {
		b.logger.Warn().Err(err).Int64("uid", b.uid).Msg("failed to send detail payload, retrying")
		b.timer = time.AfterFunc(b.opts.Retry, func() { b.fallback(gen) })
	}
}

func (b *Binder) sendPendingLocked() error {
	if err := b.surface.Post(Message{Type: MsgSpellData, Payload: b.pending}); err != nil {
		return err
	}
	b.sent = true
	b.state = Bound
	b.pending = nil
	return nil
}

// Notify rebuilds and pushes the payload when uid is the bound player. Before
// the first send it only refreshes what the first send will carry.
func (b *Binder) Notify(uid int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Unbound || uid != b.uid {
		return
	}
	payload, ok := b.source(uid)
	if !ok {
		return
	}
	if b.state == AwaitingReady {
		b.pending = payload
		return
	}
	if err := b.surface.Post(Message{Type: MsgSpellData, Payload: payload}); err != nil {
		b.logger.Warn().Err(err).Int64("uid", uid).Msg("failed to push detail update")
	}
}

// OnUserDeleted releases the binding when uid is the bound player.
func (b *Binder) OnUserDeleted(uid int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Unbound || uid != b.uid {
		return false
	}
	b.logger.Info().Int64("uid", uid).Msg("bound player removed, closing detail surface")
	b.releaseLocked()
	return true
}

func (b *Binder) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Binder) releaseLocked() {
	if b.state == Unbound {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	if b.surface != nil && !b.surface.Closed() {
		if err := b.surface.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close detail surface")
		}
	}
	b.gen++
	b.state = Unbound
	b.uid = 0
	b.surface = nil
	b.pending = nil
	b.sent = false
}

// watch releases the binding once the surface reports closed.
func (b *Binder) watch(gen uint64, surface Surface, stop <-chan struct{}) {
	ticker := time.NewTicker(b.opts.LivenessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !surface.Closed() {
				continue
			}
			b.mu.Lock()
			if gen == b.gen {
				b.logger.Debug().Int64("uid", b.uid).Msg("detail surface closed")
				b.releaseLocked()
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Binder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BoundUID is zero when nothing is bound.
func (b *Binder) BoundUID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uid
}
