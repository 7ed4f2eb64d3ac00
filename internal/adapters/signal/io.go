package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/core"
	"github.com/dkeye/peerboard/internal/domain"
	"github.com/dkeye/peerboard/internal/protocol"
)

const writeWait = 5 * time.Second

func (g *Gateway) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(g.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, st *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(st.id)).Msg("readPump closing")
		g.disconnect(st)
		st.conn.Close()
	}()

	st.conn.conn.SetReadLimit(g.Cfg.ReadLimit)
	pongWait := g.Cfg.PingPeriod + g.Cfg.PingPeriod/9
	_ = st.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.conn.SetPongHandler(func(string) error {
		return st.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := NewMessageRateLimiter(g.Cfg.MessageRateLimit, g.Cfg.MessageRateInterval)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := st.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(st.id)).Msg("readPump read error")
				}
				return
			}
			if !limiter.Allow() {
				log.Warn().Str("module", "signal").Str("conn", string(st.id)).Msg("message rate limit exceeded, dropping")
				continue
			}
			g.handleInbound(st, data)
		}
	}
}

// handleInbound decodes one frame and routes it to the named room actor.
// Protocol errors are unicast back to the offending connection only.
func (g *Gateway) handleInbound(st *connState, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(st.id)).Msg("rejected inbound message")
		_ = st.conn.TrySend(protocol.NewError(err.Error()))
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		_ = st.conn.TrySend(protocol.PongEvent{Type: protocol.EvtPong})

	case protocol.JoinRoom:
		roomID, ok := g.roomID(st, m.RoomID)
		if !ok {
			return
		}
		// First reference to an unknown room id creates it, fully open,
		// owned by the first joiner.
		room := g.Rooms.GetOrCreate(&domain.Room{
			ID:            roomID,
			CreatedBy:     st.user.ID,
			CreatedByName: st.user.Name,
			Open:          true,
			CodeLanguage:  g.Cfg.DefaultLanguage,
		})
		st.touched[roomID] = struct{}{}
		if !room.Join(domain.NewMember(st.id, st.user), st.conn) {
			g.notFound(st)
		}

	case protocol.LeaveRoom:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			delete(st.touched, r.ID())
			return r.Leave(st.id)
		})

	case protocol.CanvasUpdate:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.UpdateCanvas(st.id, st.conn, m.Scene)
		})

	case protocol.CodeUpdate:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.UpdateCode(st.id, st.conn, m.Code, m.Language)
		})

	case protocol.CursorUpdate:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.UpdateCursor(st.id, st.conn, m.Pointer)
		})

	case protocol.CodeCursorUpdate:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.UpdateCodeCursor(st.id, st.conn, m.Position, m.Selection)
		})

	case protocol.QuestionUpdate:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.UpdateQuestion(st.id, st.conn, m.QuestionLink)
		})

	case protocol.AskToJoin:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			st.touched[r.ID()] = struct{}{}
			return r.AskToJoin(domain.JoinRequest{
				ConnID: st.id,
				UserID: st.user.ID,
				Name:   st.user.Name,
			}, st.conn)
		})

	case protocol.AdminResponse:
		g.withRoom(st, m.RoomID, func(r *core.Room) bool {
			return r.Decide(st.id, st.conn, domain.ConnID(m.SocketID), m.Approved)
		})
	}
}

// withRoom resolves an existing room and posts into it; an unknown, closed
// or stopping room is answered with room:error.
func (g *Gateway) withRoom(st *connState, rawID string, post func(*core.Room) bool) {
	roomID, ok := g.roomID(st, rawID)
	if !ok {
		return
	}
	room, ok := g.Rooms.Get(roomID)
	if !ok || !post(room) {
		g.notFound(st)
	}
}

func (g *Gateway) roomID(st *connState, raw string) (domain.RoomID, bool) {
	if len(raw) > domain.MaxRoomIDLen {
		_ = st.conn.TrySend(protocol.NewError("room id too long"))
		return "", false
	}
	return domain.RoomID(raw), true
}

func (g *Gateway) notFound(st *connState) {
	_ = st.conn.TrySend(protocol.NewError("room not found"))
}

// disconnect synthesizes a leave into every room this connection touched:
// memberships end with a presence broadcast, pending join requests are
// discarded silently.
func (g *Gateway) disconnect(st *connState) {
	for roomID := range st.touched {
		if room, ok := g.Rooms.Get(roomID); ok {
			room.Disconnect(st.id)
		}
	}
}
