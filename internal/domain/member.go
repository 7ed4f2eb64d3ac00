package domain

type ConnID string

// Member represents one admitted connection inside a room.
// Identity is the connection id; the user id is stable across reconnects.
type Member struct {
	ConnID ConnID `json:"connectionId"`
	UserID UserID `json:"userId"`
	Name   string `json:"name"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(connID ConnID, user *User) Member {
	return Member{ConnID: connID, UserID: user.ID, Name: user.Name}
}

// JoinRequest is a queued admission request for a gated room.
// It is discarded once resolved, never retained as history.
type JoinRequest struct {
	ConnID ConnID `json:"connectionId"`
	UserID UserID `json:"userId"`
	Name   string `json:"name"`
}
