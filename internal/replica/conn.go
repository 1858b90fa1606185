package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"combat-meter/internal/api"
	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	"combat-meter/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("not connected")

// EventHandler receives everything the connection reads.
type EventHandler interface {
	HandleEvent(kind string, data json.RawMessage)
	Resync(users map[int64]domain.Player, skills map[int64]domain.UserSkillData)
	// DetailUID is the player a detail surface is bound to, zero if none.
	DetailUID() int64
}

// Fetcher pulls the full aggregate after every (re)connect.
type Fetcher interface {
	GetData(ctx context.Context) (*api.DataResponse, error)
	GetSkill(ctx context.Context, uid int64) (*api.SkillResponse, error)
}

// Conn is the replica's end of the push channel. Any frame, ping included,
// counts as liveness.
type Conn struct {
	url     string
	dialer  *websocket.Dialer
	fetcher Fetcher
	handler EventHandler
	logger  zerolog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected atomic.Bool
	lastEvent atomic.Int64
	now       func() time.Time
}

func NewConn(cfg *config.ClientConfig, fetcher Fetcher, handler EventHandler, logger zerolog.Logger) *Conn {
	return &Conn{
		url: api.WebSocketURL(cfg.ServerURL),
		dialer: &websocket.Dialer{
			HandshakeTimeout: constants.ResyncTimeout,
		},
		fetcher: fetcher,
		handler: handler,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Conn) touch() {
	c.lastEvent.Store(c.now().UnixNano())
}

// Connect dials, starts reading and then resyncs the mirror from the query
// API. A failed resync is logged; the push stream still catches the mirror up.
func (c *Conn) Connect(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetPingHandler(func(data string) error {
		c.touch()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(constants.WSWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.mu.Lock()
	old := c.ws
	c.ws = ws
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.connected.Store(true)
	c.touch()
	c.logger.Info().Str("url", c.url).Msg("connected to meter")

	go c.readLoop(ws)

	c.resync(ctx)
	return nil
}

func (c *Conn) resync(ctx context.Context) {
	if c.fetcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, constants.ResyncTimeout)
	defer cancel()

	resp, err := c.fetcher.GetData(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("resync after connect failed")
		return
	}
	// the bound detail surface needs skills, which GET /api/data leaves out
	skills := make(map[int64]domain.UserSkillData)
	if uid := c.handler.DetailUID(); uid > 0 {
		if _, ok := resp.User[uid]; ok {
			sk, err := c.fetcher.GetSkill(ctx, uid)
			if err != nil {
				c.logger.Warn().Err(err).Int64("uid", uid).Msg("skill resync failed")
			} else {
				skills[uid] = sk.Data
			}
		}
	}

	c.handler.Resync(resp.User, skills)
	c.logger.Debug().Int("players", len(resp.User)).Int("skills", len(skills)).Msg("mirror resynced")
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.ws == ws
			c.mu.Unlock()
			if current {
				c.connected.Store(false)
				c.logger.Warn().Err(err).Msg("push channel lost")
			}
			return
		}
		c.touch()

		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed push frame")
			continue
		}
		c.handler.HandleEvent(env.Type, env.Data)
	}
}

func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// LastEventAt is the time of the last frame of any kind.
func (c *Conn) LastEventAt() time.Time {
	return time.Unix(0, c.lastEvent.Load())
}

func (c *Conn) MarkDisconnected() {
	c.connected.Store(false)
}

// ForceClose drops the socket without waiting for the peer.
func (c *Conn) ForceClose() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.connected.Store(false)
	if ws != nil {
		ws.Close()
	}
}

func (c *Conn) Reconnect(ctx context.Context) error {
	c.ForceClose()
	return c.Connect(ctx)
}

// Close says goodbye to the server and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.connected.Store(false)
	if ws == nil {
		return ErrNotConnected
	}
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WSWriteWait))
	return ws.Close()
}
