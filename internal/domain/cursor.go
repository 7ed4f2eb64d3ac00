package domain

// PointerPos is a whiteboard pointer coordinate pair.
type PointerPos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CaretPos is a code editor caret location.
type CaretPos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is a code editor selection.
type SelectionRange struct {
	Start CaretPos `json:"start"`
	End   CaretPos `json:"end"`
}

// CursorPosition is one user's live whiteboard pointer. A nil Pointer is
// never stored; it is a tombstone instruction to remove the entry.
type CursorPosition struct {
	UserID  UserID      `json:"userId"`
	Name    string      `json:"name"`
	Pointer *PointerPos `json:"pointer"`
}

// CodeCursorPosition is one user's live code caret and selection.
// Same tombstone-on-nil rule as CursorPosition.
type CodeCursorPosition struct {
	UserID    UserID          `json:"userId"`
	Name      string          `json:"name"`
	Position  *CaretPos       `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
}
