package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"combat-meter/internal/aggregate"
	"combat-meter/internal/domain"
	"combat-meter/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	kind    string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(kind string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind, payload})
}

func (p *fakePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []*domain.Session
	err   error
	delay time.Duration

	// when set, Save signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (a *fakeArchive) Save(_ context.Context, s *domain.Session) error {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.release != nil {
		a.entered <- struct{}{}
		<-a.release
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.saved = append(a.saved, s)
	return nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}

type mapTable map[int64]string

func (m mapTable) MapName(id int64) (string, bool) {
	name, ok := m[id]
	return name, ok
}

type harness struct {
	svc     *SessionService
	store   *aggregate.Store
	archive *fakeArchive
	pub     *fakePublisher
	metrics *metrics.Metrics
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		archive: &fakeArchive{},
		pub:     &fakePublisher{},
		metrics: metrics.New(zerolog.Nop()),
		now:     time.Date(2025, 10, 26, 23, 59, 0, 0, time.Local),
	}
	clock := func() time.Time { return h.now }
	h.store = aggregate.NewWithClock(nil, clock)
	h.svc = NewSessionService(h.store, h.archive, h.pub, mapTable{9001: "Frozen Keep"}, h.metrics, zerolog.Nop())
	h.svc.SetClock(clock)
	n := 0
	h.svc.newID = func() (string, error) {
		n++
		return fmt.Sprintf("sess-%d", n), nil
	}
	return h
}

func (h *harness) addDamage(t *testing.T, uid int64, dmg float64) {
	t.Helper()
	require.NoError(t, h.store.ApplyUserUpdate(uid, domain.PlayerUpdate{TotalDamage: &dmg}))
}

func TestStart_OnlyFromIdle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Manual Restart — 2025-10-26 23:59:00", s.Name)
	assert.Equal(t, domain.StartStartup, s.ReasonStart)
	assert.Equal(t, int64(1), s.Seq)
	assert.True(t, s.Active())

	_, err = h.svc.Start(ctx, nil, "")
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, []string{domain.EventSessionStarted}, h.pub.kinds())
}

func TestClear_WithPlayersArchivesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inst := int64(9001)

	first, err := h.svc.Start(ctx, &inst, "")
	require.NoError(t, err)
	h.addDamage(t, 1, 1200)
	h.addDamage(t, 2, 300)
	require.NoError(t, h.store.ApplyUserUpdate(3, domain.PlayerUpdate{}))
	h.pub.reset()

	h.now = h.now.Add(95 * time.Second)
	tr, err := h.svc.Clear(ctx)
	require.NoError(t, err)

	require.True(t, tr.Archived)
	require.Equal(t, 1, h.archive.count())
	saved := h.archive.saved[0]
	assert.Equal(t, first.ID, saved.ID)
	assert.Equal(t, domain.EndManualClear, saved.ReasonEnd)
	assert.Equal(t, 2, saved.PartySize)
	assert.Equal(t, int64(95_000), saved.DurationMs)
	require.NotNil(t, saved.EndedAt)
	assert.Len(t, saved.Snapshot.UsersAgg, 3)
	assert.Contains(t, saved.Snapshot.Users, "1")

	assert.NotEqual(t, first.ID, tr.Started.ID)
	assert.Equal(t, "Frozen Keep — 2025-10-27 00:00:35", tr.Started.Name)
	assert.Equal(t, domain.StartManualRestart, tr.Started.ReasonStart)
	assert.Equal(t, int64(2), tr.Started.Seq)
	assert.Equal(t, 0, h.store.Len())

	assert.Equal(t, []string{domain.EventSessionEnded, domain.EventSessionStarted, domain.EventDPSCleared}, h.pub.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionsArchived))
}

func TestClear_UpdateDuringArchiveWriteIsKept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.archive.entered = make(chan struct{})
	h.archive.release = make(chan struct{})

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	h.addDamage(t, 1, 1200)

	done := make(chan Transition, 1)
	go func() {
		tr, err := h.svc.Clear(ctx)
		assert.NoError(t, err)
		done <- tr
	}()

	select {
	case <-h.archive.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("archive write never started")
	}
	h.addDamage(t, 2, 500)
	close(h.archive.release)

	var tr Transition
	select {
	case tr = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("clear did not finish")
	}
	require.True(t, tr.Archived)

	saved := h.archive.saved[0]
	assert.Contains(t, saved.Snapshot.UsersAgg, int64(1))
	assert.NotContains(t, saved.Snapshot.UsersAgg, int64(2))

	p, ok := h.store.Player(2)
	require.True(t, ok, "update applied during the archive write must survive in the new session")
	assert.Equal(t, 500.0, p.TotalDamage)
	_, ok = h.store.Player(1)
	assert.False(t, ok)
}

func TestClear_EmptySessionIsNotArchived(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	require.NoError(t, h.store.ApplyUserUpdate(5, domain.PlayerUpdate{}))

	tr, err := h.svc.Clear(ctx)
	require.NoError(t, err)

	assert.False(t, tr.Archived)
	assert.Zero(t, h.archive.count())
	assert.NotEqual(t, first.ID, tr.Started.ID)
	cur, ok := h.svc.Current()
	require.True(t, ok)
	assert.Equal(t, tr.Started.ID, cur.ID)
}

func TestClear_FromIdleStartsSession(t *testing.T) {
	h := newHarness(t)

	tr, err := h.svc.Clear(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tr.Ended)
	assert.Equal(t, []string{domain.EventSessionStarted, domain.EventDPSCleared}, h.pub.kinds())
}

func TestClear_NameStripsPreviousTimestamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, nil, "Raid Night")
	require.NoError(t, err)
	h.now = h.now.Add(time.Hour)

	tr, err := h.svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Raid Night — 2025-10-27 00:59:00", tr.Started.Name)
}

func TestClear_ArchiveFailureDoesNotBlockRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.archive.err = errors.New("disk full")

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	h.addDamage(t, 1, 10)

	tr, err := h.svc.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, tr.Archived)
	assert.True(t, tr.Started.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ArchiveFailures))
}

func TestClear_ConcurrentCallsNeverDoubleArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.archive.delay = 20 * time.Millisecond

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	h.addDamage(t, 1, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Clear(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.archive.count())
	cur, ok := h.svc.Current()
	require.True(t, ok)
	assert.True(t, cur.Active())
}

func TestOnInstanceChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	h.addDamage(t, 1, 10)
	h.pub.reset()

	tr, changed, err := h.svc.OnInstanceChanged(ctx, 9001, "")
	require.NoError(t, err)
	require.True(t, changed)
	assert.True(t, tr.Archived)
	assert.Equal(t, domain.EndInstanceChanged, h.archive.saved[0].ReasonEnd)
	assert.Equal(t, domain.StartInstanceChanged, tr.Started.ReasonStart)
	require.NotNil(t, tr.Started.InstanceID)
	assert.Equal(t, int64(9001), *tr.Started.InstanceID)
	assert.Equal(t, "Frozen Keep", tr.Started.MapName)
	assert.Equal(t, []string{domain.EventSessionEnded, domain.EventSessionStarted, domain.EventSessionChanged}, h.pub.kinds())

	_, changed, err = h.svc.OnInstanceChanged(ctx, 9001, "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEncounterTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)

	_, fired, err := h.svc.EncounterTimeout(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, fired, "no activity yet")

	h.addDamage(t, 1, 10)
	h.now = h.now.Add(10 * time.Second)
	_, fired, err = h.svc.EncounterTimeout(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, fired)

	h.now = h.now.Add(25 * time.Second)
	tr, fired, err := h.svc.EncounterTimeout(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, fired)
	assert.Equal(t, domain.EndEncounterTimeout, h.archive.saved[0].ReasonEnd)
	assert.Equal(t, domain.StartEncounterTimeout, tr.Started.ReasonStart)
}

func TestAtMostOneActiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, nil, "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		h.addDamage(t, int64(i+1), 10)
		_, err := h.svc.Clear(ctx)
		require.NoError(t, err)
	}

	for _, s := range h.archive.saved {
		assert.NotNil(t, s.EndedAt)
		assert.GreaterOrEqual(t, s.PartySize, 1)
	}
	assert.Equal(t, 5, h.archive.count())

	h.svc.Stop()
	_, ok := h.svc.Current()
	assert.False(t, ok)
}

func TestStripTimestamp(t *testing.T) {
	tests := map[string]string{
		"Frozen Keep — 2025-10-26 23:59":    "Frozen Keep",
		"Frozen Keep - 2025/10/26 23:59:59": "Frozen Keep",
		"Frozen Keep – 2025-10-26 23:59:59": "Frozen Keep",
		"Frozen Keep":                       "Frozen Keep",
		"— 2025-10-26 23:59:59":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, StripTimestamp(in), in)
	}
}
