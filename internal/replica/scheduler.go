package replica

import (
	"context"
	"sync/atomic"
)

// Scheduler coalesces redraw requests. Any number of requests made while a
// pass is pending or running collapse into a single following pass.
type Scheduler struct {
	pending chan struct{}
	draw    func()
	passes  atomic.Int64
}

func NewScheduler(draw func()) *Scheduler {
	return &Scheduler{
		pending: make(chan struct{}, 1),
		draw:    draw,
	}
}

func (s *Scheduler) Request() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// Run executes passes one at a time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.pending:
			s.draw()
			s.passes.Add(1)
		}
	}
}

// Passes is the number of completed passes.
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}
