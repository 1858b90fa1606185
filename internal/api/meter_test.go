package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"combat-meter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *MeterClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewMeterClient(&config.ClientConfig{ServerURL: srv.URL})
}

func TestMeterClient_GetData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data", r.URL.Path)
		w.Write([]byte(`{"code":0,"user":{"7":{"id":7,"name":"Aria","total_damage":900}}}`))
	})

	resp, err := c.GetData(context.Background())
	require.NoError(t, err)
	require.Contains(t, resp.User, int64(7))
	assert.Equal(t, "Aria", resp.User[7].Name)
	assert.Equal(t, 900.0, resp.User[7].TotalDamage)
}

func TestMeterClient_FailureEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":1,"msg":"User not found"}`))
	})

	_, err := c.GetSkill(context.Background(), 99)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "User not found", apiErr.Msg)
}

func TestMeterClient_CodeOneWithOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1,"msg":"nope"}`))
	})

	_, err := c.Clear(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "nope", apiErr.Msg)
}

func TestMeterClient_SetPaused(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"paused":true}`, string(body))
		w.Write([]byte(`{"code":0,"msg":"Statistics paused!","paused":true}`))
	})

	resp, err := c.SetPaused(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, resp.Paused)
	assert.Equal(t, "Statistics paused!", resp.Msg)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "http://localhost:8990", BaseURL("localhost:8990"))
	assert.Equal(t, "https://meter.local", BaseURL("https://meter.local/"))
	assert.Equal(t, "ws://localhost:8990/ws", WebSocketURL("localhost:8990"))
	assert.Equal(t, "wss://meter.local/ws", WebSocketURL("https://meter.local"))
}
