package replica

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"combat-meter/internal/api"
	"combat-meter/internal/config"
	"combat-meter/internal/domain"
	"combat-meter/internal/hub"
	"combat-meter/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	users  map[int64]domain.Player
	skills map[int64]domain.UserSkillData
	err    error

	mu         sync.Mutex
	skillCalls []int64
}

func (f *fakeFetcher) GetData(context.Context) (*api.DataResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &api.DataResponse{User: f.users}, nil
}

func (f *fakeFetcher) GetSkill(_ context.Context, uid int64) (*api.SkillResponse, error) {
	f.mu.Lock()
	f.skillCalls = append(f.skillCalls, uid)
	f.mu.Unlock()
	data, ok := f.skills[uid]
	if !ok {
		return nil, &api.APIError{StatusCode: http.StatusNotFound, Msg: "User not found"}
	}
	return &api.SkillResponse{Data: data}, nil
}

type recordingHandler struct {
	mu        sync.Mutex
	kinds     []string
	resyncs   []map[int64]domain.Player
	skills    []map[int64]domain.UserSkillData
	detailUID int64
}

func (h *recordingHandler) HandleEvent(kind string, _ json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kinds = append(h.kinds, kind)
}

func (h *recordingHandler) Resync(users map[int64]domain.Player, skills map[int64]domain.UserSkillData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resyncs = append(h.resyncs, users)
	h.skills = append(h.skills, skills)
}

func (h *recordingHandler) DetailUID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detailUID
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.kinds...), len(h.resyncs)
}

func newHubServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(&config.Config{AllowedOrigins: []string{"*"}}, metrics.New(zerolog.Nop()), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return h, srv
}

func TestConn_ConnectResyncsAndReceives(t *testing.T) {
	h, srv := newHubServer(t)
	handler := &recordingHandler{}
	fetcher := &fakeFetcher{users: map[int64]domain.Player{7: {Name: "Aria"}}}

	c := NewConn(&config.ClientConfig{ServerURL: srv.URL}, fetcher, handler, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.True(t, c.Connected())
	_, resyncs := handler.snapshot()
	assert.Equal(t, 1, resyncs)

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	before := c.LastEventAt()
	time.Sleep(5 * time.Millisecond)
	h.Publish(domain.EventDPSCleared, domain.ClearedEvent{At: 1})

	require.Eventually(t, func() bool {
		kinds, _ := handler.snapshot()
		return len(kinds) == 1 && kinds[0] == domain.EventDPSCleared
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.LastEventAt().After(before))
}

func TestConn_ResyncFetchesBoundDetailSkills(t *testing.T) {
	_, srv := newHubServer(t)
	handler := &recordingHandler{detailUID: 7}
	fetcher := &fakeFetcher{
		users:  map[int64]domain.Player{7: {Name: "Aria"}, 8: {Name: "Bram"}},
		skills: map[int64]domain.UserSkillData{7: {UID: 7, Skills: map[string]domain.Skill{"100": {TotalDamage: 12}}}},
	}

	c := NewConn(&config.ClientConfig{ServerURL: srv.URL}, fetcher, handler, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.skills, 1)
	assert.Equal(t, 12.0, handler.skills[0][7].Skills["100"].TotalDamage)
	assert.Equal(t, []int64{7}, fetcher.skillCalls, "only the bound player is fetched")
}

func TestConn_ResyncSkipsSkillsForMissingDetailPlayer(t *testing.T) {
	_, srv := newHubServer(t)
	handler := &recordingHandler{detailUID: 42}
	fetcher := &fakeFetcher{users: map[int64]domain.Player{7: {Name: "Aria"}}}

	c := NewConn(&config.ClientConfig{ServerURL: srv.URL}, fetcher, handler, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	_, resyncs := handler.snapshot()
	assert.Equal(t, 1, resyncs)
	assert.Empty(t, fetcher.skillCalls)
}

func TestConn_ServerGoneMarksDisconnected(t *testing.T) {
	h, srv := newHubServer(t)
	c := NewConn(&config.ClientConfig{ServerURL: srv.URL}, &fakeFetcher{err: errors.New("down")}, &recordingHandler{}, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	h.Close()

	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestConn_ReconnectReplacesSocket(t *testing.T) {
	h, srv := newHubServer(t)
	handler := &recordingHandler{}
	c := NewConn(&config.ClientConfig{ServerURL: srv.URL}, &fakeFetcher{}, handler, zerolog.Nop())
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Reconnect(context.Background()))
	defer c.Close()

	assert.True(t, c.Connected())
	_, resyncs := handler.snapshot()
	assert.Equal(t, 2, resyncs, "every connect resyncs")
	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestConn_DialFailure(t *testing.T) {
	c := NewConn(&config.ClientConfig{ServerURL: "127.0.0.1:1"}, nil, &recordingHandler{}, zerolog.Nop())
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Close(), ErrNotConnected)
}
