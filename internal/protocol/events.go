package protocol

import (
	"encoding/json"

	"github.com/dkeye/peerboard/internal/domain"
)

// Server-to-client event names. Every outbound frame is a JSON object whose
// "type" field carries one of these.
const (
	EvtRoomState        = "room_state"
	EvtRoomPresence     = "room_presence"
	EvtCanvasUpdate     = "canvas_update"
	EvtCodeUpdate       = "code_update"
	EvtCursorUpdate     = "cursor_update"
	EvtCodeCursorUpdate = "code_cursor_update"
	EvtQuestionUpdate   = "question_update"
	EvtJoinRequest      = "join_request"
	EvtJoinApproved     = "join_approved"
	EvtJoinDenied       = "join_denied"
	EvtRoomClosed       = "room_closed"
	EvtAccessDenied     = "room:access_denied"
	EvtRoomError        = "room:error"
	EvtPong             = "pong"
)

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

type RoomStateEvent struct {
	Type string `json:"type"`
	domain.RoomState
}

type PresenceEvent struct {
	Type   string        `json:"type"`
	Event  string        `json:"event"` // joined | left
	Member domain.Member `json:"member"`
}

type CanvasEvent struct {
	Type   string          `json:"type"`
	RoomID domain.RoomID   `json:"roomId"`
	UserID domain.UserID   `json:"userId"`
	Scene  json.RawMessage `json:"scene"`
}

// CodeEvent carries the merged code state after a code update was applied,
// so a receiver never has to reconstruct a partial update.
type CodeEvent struct {
	Type     string        `json:"type"`
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Code     string        `json:"code"`
	Language string        `json:"language"`
}

type CursorEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	domain.CursorPosition
}

type CodeCursorEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	domain.CodeCursorPosition
}

type QuestionEvent struct {
	Type         string        `json:"type"`
	RoomID       domain.RoomID `json:"roomId"`
	UserID       domain.UserID `json:"userId"`
	QuestionLink *string       `json:"questionLink"`
}

type JoinRequestEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	domain.JoinRequest
}

// JoinDecisionEvent is unicast to a requester as join_approved or join_denied.
type JoinDecisionEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type RoomClosedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type AccessDeniedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongEvent struct {
	Type string `json:"type"`
}

func NewRoomState(state domain.RoomState) RoomStateEvent {
	return RoomStateEvent{Type: EvtRoomState, RoomState: state}
}

func NewPresence(event string, m domain.Member) PresenceEvent {
	return PresenceEvent{Type: EvtRoomPresence, Event: event, Member: m}
}

func NewError(msg string) ErrorEvent {
	return ErrorEvent{Type: EvtRoomError, Message: msg}
}
