package replica

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Channel is what the watchdog supervises.
type Channel interface {
	Connected() bool
	LastEventAt() time.Time
	MarkDisconnected()
	ForceClose()
	Reconnect(ctx context.Context) error
}

type Verdict int

const (
	Healthy Verdict = iota
	Disconnected
	Stale
)

func (v Verdict) String() string {
	switch v {
	case Disconnected:
		return "disconnected"
	case Stale:
		return "stale"
	default:
		return "healthy"
	}
}

// Watchdog reconnects a channel that either reports itself disconnected or has
// been silent for longer than the threshold while claiming to be connected.
type Watchdog struct {
	ch        Channel
	threshold time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewWatchdog(ch Channel, threshold time.Duration, logger zerolog.Logger) *Watchdog {
	return &Watchdog{ch: ch, threshold: threshold, now: time.Now, logger: logger}
}

func (w *Watchdog) Check(ctx context.Context) Verdict {
	if !w.ch.Connected() {
		w.reconnect(ctx, Disconnected)
		return Disconnected
	}

	silent := w.now().Sub(w.ch.LastEventAt())
	if silent > w.threshold {
		w.logger.Warn().Dur("silent", silent).Msg("push channel stale, forcing reconnect")
		w.ch.MarkDisconnected()
		w.ch.ForceClose()
		w.reconnect(ctx, Stale)
		return Stale
	}
	return Healthy
}

func (w *Watchdog) reconnect(ctx context.Context, why Verdict) {
	if err := w.ch.Reconnect(ctx); err != nil {
		w.logger.Warn().Err(err).Stringer("verdict", why).Msg("reconnect failed")
		return
	}
	w.logger.Info().Stringer("verdict", why).Msg("reconnected")
}

// Run checks once per threshold until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.threshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
