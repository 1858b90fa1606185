// Package api is the replica's client for the meter's query endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	"combat-meter/internal/detail"
	"combat-meter/internal/domain"

	"github.com/valyala/fasthttp"
)

type MeterClient struct {
	baseURL string
	client  *fasthttp.Client
}

// APIError is a response carrying code 1 or a non-2xx status.
type APIError struct {
	StatusCode int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("meter API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("meter API error: %d: %s", e.StatusCode, e.Msg)
}

type status struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type DataResponse struct {
	User map[int64]domain.Player `json:"user"`
}

type SkillResponse struct {
	Data domain.UserSkillData `json:"data"`
}

type ClearResponse struct {
	Msg      string         `json:"msg"`
	Session  domain.Session `json:"session"`
	Archived bool           `json:"archived"`
}

type PauseResponse struct {
	Msg    string `json:"msg"`
	Paused bool   `json:"paused"`
}

type PayloadResponse struct {
	Data detail.Payload `json:"data"`
}

func NewMeterClient(cfg *config.ClientConfig) *MeterClient {
	return &MeterClient{
		baseURL: BaseURL(cfg.ServerURL),
		client: &fasthttp.Client{
			MaxConnsPerHost:     8,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// BaseURL accepts host:port or a full http(s) URL.
func BaseURL(server string) string {
	server = strings.TrimRight(server, "/")
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return server
	}
	return "http://" + server
}

// WebSocketURL returns the push channel address for server.
func WebSocketURL(server string) string {
	base := BaseURL(server)
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
}

func (c *MeterClient) GetData(ctx context.Context) (*DataResponse, error) {
	return doRequest[DataResponse](ctx, c, fasthttp.MethodGet, "/api/data", nil)
}

func (c *MeterClient) GetSkill(ctx context.Context, uid int64) (*SkillResponse, error) {
	return doRequest[SkillResponse](ctx, c, fasthttp.MethodGet, "/api/skill/"+strconv.FormatInt(uid, 10), nil)
}

func (c *MeterClient) Clear(ctx context.Context) (*ClearResponse, error) {
	return doRequest[ClearResponse](ctx, c, fasthttp.MethodGet, "/api/clear", nil)
}

func (c *MeterClient) SetPaused(ctx context.Context, paused bool) (*PauseResponse, error) {
	body, err := json.Marshal(map[string]bool{"paused": paused})
	if err != nil {
		return nil, err
	}
	return doRequest[PauseResponse](ctx, c, fasthttp.MethodPost, "/api/pause", body)
}

func (c *MeterClient) GetSessionPayload(ctx context.Context, sessionID string, uid int64) (*PayloadResponse, error) {
	path := fmt.Sprintf("/api/sessions/%s/payload/%d", url.PathEscape(sessionID), uid)
	return doRequest[PayloadResponse](ctx, c, fasthttp.MethodGet, path, nil)
}

func doRequest[T any](ctx context.Context, client *MeterClient, method, path string, body []byte) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(client.baseURL + path)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.RequestTimeout)
	}
	if err := client.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}

	var st status
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		if resp.StatusCode() != fasthttp.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode()}
		}
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK || st.Code != 0 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Msg: st.Msg}
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
