package replica

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeChannel struct {
	connected  bool
	lastEvent  time.Time
	reconnects int
	closes     int
	marks      int
	err        error
}

func (f *fakeChannel) Connected() bool        { return f.connected }
func (f *fakeChannel) LastEventAt() time.Time { return f.lastEvent }
func (f *fakeChannel) MarkDisconnected()      { f.marks++; f.connected = false }
func (f *fakeChannel) ForceClose()            { f.closes++ }

func (f *fakeChannel) Reconnect(context.Context) error {
	f.reconnects++
	if f.err != nil {
		return f.err
	}
	f.connected = true
	return nil
}

func newWatchdog(ch *fakeChannel, now time.Time) *Watchdog {
	w := NewWatchdog(ch, 5*time.Second, zerolog.Nop())
	w.now = func() time.Time { return now }
	return w
}

func TestWatchdog_Healthy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ch := &fakeChannel{connected: true, lastEvent: now.Add(-2 * time.Second)}

	assert.Equal(t, Healthy, newWatchdog(ch, now).Check(context.Background()))
	assert.Zero(t, ch.reconnects)
}

func TestWatchdog_SilentWhileConnected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ch := &fakeChannel{connected: true, lastEvent: now.Add(-6 * time.Second)}
	ch.err = errors.New("refused")

	v := newWatchdog(ch, now).Check(context.Background())

	assert.Equal(t, Stale, v)
	assert.Equal(t, 1, ch.marks)
	assert.Equal(t, 1, ch.closes)
	assert.Equal(t, 1, ch.reconnects)
	assert.False(t, ch.connected)
}

func TestWatchdog_Disconnected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ch := &fakeChannel{connected: false, lastEvent: now}

	v := newWatchdog(ch, now).Check(context.Background())

	assert.Equal(t, Disconnected, v)
	assert.Equal(t, 1, ch.reconnects)
	assert.Zero(t, ch.closes)
	assert.True(t, ch.connected)
	assert.Equal(t, "disconnected", v.String())
}
