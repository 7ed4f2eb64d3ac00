package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/config"
	"github.com/dkeye/peerboard/internal/core"
	"github.com/dkeye/peerboard/internal/domain"
)

type RoomHandlers struct {
	Rooms *core.Registry
	Cfg   *config.Config
}

// CreateRoomRequest is the "room created" trigger issued by the external
// room-management collaborator.
type CreateRoomRequest struct {
	RoomID        string  `json:"roomId"`
	CreatedBy     string  `json:"createdBy" binding:"required"`
	CreatedByName string  `json:"createdByName" binding:"required"`
	QuestionLink  *string `json:"questionLink"`
	MeetLink      string  `json:"meetLink"`
	Language      string  `json:"language"`
	Open          bool    `json:"open"`
}

func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.NewString()
	}
	if len(roomID) > domain.MaxRoomIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id too long"})
		return
	}
	language := req.Language
	if language == "" {
		language = h.Cfg.DefaultLanguage
	}

	room, created := h.Rooms.Create(&domain.Room{
		ID:            domain.RoomID(roomID),
		CreatedBy:     domain.UserID(req.CreatedBy),
		CreatedByName: req.CreatedByName,
		Open:          req.Open,
		CodeLanguage:  language,
		QuestionLink:  req.QuestionLink,
		MeetLink:      req.MeetLink,
	})
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", roomID).
		Str("creator", req.CreatedBy).Bool("open", req.Open).Msg("room created via api")

	c.JSON(http.StatusCreated, room.Info())
}

func (h *RoomHandlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Rooms.List()})
}

// CloseRoom tears a room down on behalf of its creator. Members receive a
// terminal room_closed event; afterwards the room id is unknown.
func (h *RoomHandlers) CloseRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	room, ok := h.Rooms.Get(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	userID := c.Query("userId")
	if domain.UserID(userID) != room.CreatorID() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator may close a room"})
		return
	}

	if !room.Close() {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
