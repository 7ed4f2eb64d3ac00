// Package protocol defines the wire messages exchanged over a signal
// connection. Inbound messages form a closed set: Decode returns exactly one
// of the concrete types below, so dispatch sites can switch over them
// exhaustively and adding a message kind is a compile-visible change.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/peerboard/internal/domain"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingRoom   = errors.New("missing roomId")
	ErrEmptyUpdate   = errors.New("update carries neither code nor language")
	ErrMissingSocket = errors.New("missing socketId")
)

// Inbound is the sealed set of client-to-server messages.
type Inbound interface{ inbound() }

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type CanvasUpdate struct {
	RoomID string          `json:"roomId"`
	Scene  json.RawMessage `json:"scene"`
}

// CodeUpdate carries code text and/or a language tag. At least one field
// must be present; Decode rejects an update with neither.
type CodeUpdate struct {
	RoomID   string  `json:"roomId"`
	Code     *string `json:"code"`
	Language *string `json:"language"`
}

type CursorUpdate struct {
	RoomID  string             `json:"roomId"`
	Pointer *domain.PointerPos `json:"pointer"`
}

type CodeCursorUpdate struct {
	RoomID    string                 `json:"roomId"`
	Position  *domain.CaretPos       `json:"position"`
	Selection *domain.SelectionRange `json:"selection"`
}

type QuestionUpdate struct {
	RoomID       string  `json:"roomId"`
	QuestionLink *string `json:"questionLink"`
}

type AskToJoin struct {
	RoomID string `json:"roomId"`
}

type AdminResponse struct {
	RoomID   string `json:"roomId"`
	SocketID string `json:"socketId"`
	Approved bool   `json:"approved"`
}

type Ping struct{}

func (JoinRoom) inbound()         {}
func (LeaveRoom) inbound()        {}
func (CanvasUpdate) inbound()     {}
func (CodeUpdate) inbound()       {}
func (CursorUpdate) inbound()     {}
func (CodeCursorUpdate) inbound() {}
func (QuestionUpdate) inbound()   {}
func (AskToJoin) inbound()        {}
func (AdminResponse) inbound()    {}
func (Ping) inbound()             {}

// Decode parses one wire frame into its concrete inbound message.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad envelope: %w", err)
	}

	switch env.Type {
	case "join_room":
		return decodeRoomKeyed[JoinRoom](data, func(m JoinRoom) string { return m.RoomID })
	case "leave_room":
		return decodeRoomKeyed[LeaveRoom](data, func(m LeaveRoom) string { return m.RoomID })
	case "canvas_update":
		return decodeRoomKeyed[CanvasUpdate](data, func(m CanvasUpdate) string { return m.RoomID })
	case "code_update":
		m, err := decodeRoomKeyed[CodeUpdate](data, func(m CodeUpdate) string { return m.RoomID })
		if err != nil {
			return nil, err
		}
		if m.Code == nil && m.Language == nil {
			return nil, ErrEmptyUpdate
		}
		return m, nil
	case "cursor_update":
		return decodeRoomKeyed[CursorUpdate](data, func(m CursorUpdate) string { return m.RoomID })
	case "code_cursor_update":
		return decodeRoomKeyed[CodeCursorUpdate](data, func(m CodeCursorUpdate) string { return m.RoomID })
	case "question_update":
		return decodeRoomKeyed[QuestionUpdate](data, func(m QuestionUpdate) string { return m.RoomID })
	case "ask_to_join":
		return decodeRoomKeyed[AskToJoin](data, func(m AskToJoin) string { return m.RoomID })
	case "admin_response":
		m, err := decodeRoomKeyed[AdminResponse](data, func(m AdminResponse) string { return m.RoomID })
		if err != nil {
			return nil, err
		}
		if m.SocketID == "" {
			return nil, ErrMissingSocket
		}
		return m, nil
	case "ping":
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeRoomKeyed[M Inbound](data []byte, roomOf func(M) string) (M, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("bad payload: %w", err)
	}
	if roomOf(m) == "" {
		return m, ErrMissingRoom
	}
	return m, nil
}
