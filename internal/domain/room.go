package domain

import "encoding/json"

const MaxRoomIDLen = 64

type RoomID string

// Room holds a room's identity and its authoritative shared state.
// Membership, cursors and the admission queue live in the core actor;
// this struct is only ever touched from that actor's goroutine.
type Room struct {
	ID            RoomID
	CreatedBy     UserID
	CreatedByName string
	Open          bool

	CanvasData   json.RawMessage // opaque whiteboard blob, nil until first update
	CodeData     string
	CodeLanguage string
	QuestionLink *string
	MeetLink     string
}

// RoomState is the read-only projection handed to a newly joined or
// resynchronizing member. Cursors are live-only and intentionally absent.
type RoomState struct {
	RoomID        RoomID          `json:"roomId"`
	CanvasData    json.RawMessage `json:"canvasData"`
	CodeData      string          `json:"codeData"`
	CodeLanguage  string          `json:"codeLanguage"`
	QuestionLink  *string         `json:"questionLink"`
	MeetLink      string          `json:"meetLink"`
	CreatedByName string          `json:"createdByName"`
	Members       []Member        `json:"members"`
}

// Snapshot copies the shared state into a RoomState.
func (r *Room) Snapshot(members []Member) RoomState {
	return RoomState{
		RoomID:        r.ID,
		CanvasData:    r.CanvasData,
		CodeData:      r.CodeData,
		CodeLanguage:  r.CodeLanguage,
		QuestionLink:  r.QuestionLink,
		MeetLink:      r.MeetLink,
		CreatedByName: r.CreatedByName,
		Members:       members,
	}
}
