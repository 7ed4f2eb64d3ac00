// Package http wires the gin router: the WebSocket signal endpoint and the
// small REST surface used by external collaborators to create and close
// rooms.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/adapters/signal"
	"github.com/dkeye/peerboard/internal/config"
	"github.com/dkeye/peerboard/internal/core"
)

// ClientTokenMiddleware gives every browser a stable token so anonymous
// connections keep the same user id across reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *core.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PeerboardSessions", store))
	r.Use(ClientTokenMiddleware())

	gateway := signal.NewGateway(rooms, cfg)
	h := &RoomHandlers{Rooms: rooms, Cfg: cfg}

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		gateway.HandleSignal(ctx, c)
	})
	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms", h.ListRooms)
	api.DELETE("/rooms/:id", h.CloseRoom)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
