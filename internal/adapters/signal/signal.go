// Package signal is the connection gateway: it upgrades HTTP requests to
// WebSocket connections, binds the caller-supplied identity to each one and
// routes inbound messages to room actors.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/config"
	"github.com/dkeye/peerboard/internal/core"
	"github.com/dkeye/peerboard/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Gateway struct {
	Rooms *core.Registry
	Cfg   *config.Config
}

func NewGateway(rooms *core.Registry, cfg *config.Config) *Gateway {
	return &Gateway{Rooms: rooms, Cfg: cfg}
}

// connState is the gateway-side bookkeeping for one live connection: its
// identity and the set of rooms it has touched (joined or asked to join),
// so a disconnect can be synthesized into each of them. Only the readPump
// goroutine mutates it.
type connState struct {
	id      domain.ConnID
	user    *domain.User
	conn    *WsConn
	touched map[domain.RoomID]struct{}
}

// WsConn wraps one websocket with a bounded outbound queue.
// TrySend never blocks; a full queue or a closed connection is an error
// the caller may ignore (at-most-once delivery).
type WsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and starts the connection's pumps.
// Identity comes from the external auth collaborator: userId/name query
// parameters or session values; the client-token cookie is the fallback so
// anonymous connections still get a stable user id across reconnects.
func (g *Gateway) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := c.Query("userId")
	name := c.Query("name")
	if sess := sessions.Default(c); sess != nil {
		if uid == "" {
			if v, ok := sess.Get("userId").(string); ok {
				uid = v
			}
		}
		if name == "" {
			if v, ok := sess.Get("name").(string); ok {
				name = v
			}
		}
	}
	if uid == "" {
		uid = c.GetString("client_token")
	}
	if name == "" {
		name = "guest"
	}

	user, err := domain.NewUser(domain.UserID(uid), name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	st := &connState{
		id:      domain.ConnID(uuid.NewString()),
		user:    user,
		conn:    &WsConn{conn: ws, send: make(chan []byte, 64)},
		touched: make(map[domain.RoomID]struct{}),
	}
	log.Info().Str("module", "signal").Str("conn", string(st.id)).
		Str("user", string(user.ID)).Msg("new signal connection")

	ctx, cancel := context.WithCancel(ctx)
	go g.writePump(ctx, st.conn)
	go func() {
		defer cancel()
		g.readPump(ctx, st)
	}()
}
