package core

import (
	"encoding/json"

	"github.com/dkeye/peerboard/internal/domain"
)

// command is the sealed set of messages a room actor consumes. Every
// mutation of room state arrives here and is applied in inbox order.
type command interface{ cmd() }

type joinCmd struct {
	member domain.Member
	sender Sender
}

// leaveCmd covers both an explicit leave_room and a synthesized leave on
// physical disconnect; the latter also discards a pending join request.
type leaveCmd struct {
	conn       domain.ConnID
	disconnect bool
}

type closeCmd struct{}

type askCmd struct {
	req    domain.JoinRequest
	sender Sender
}

type decideCmd struct {
	conn     domain.ConnID
	sender   Sender
	target   domain.ConnID
	approved bool
}

type canvasCmd struct {
	conn   domain.ConnID
	sender Sender
	scene  json.RawMessage
}

type codeCmd struct {
	conn     domain.ConnID
	sender   Sender
	code     *string
	language *string
}

type questionCmd struct {
	conn   domain.ConnID
	sender Sender
	link   *string
}

type cursorCmd struct {
	conn    domain.ConnID
	sender  Sender
	pointer *domain.PointerPos
}

type codeCursorCmd struct {
	conn      domain.ConnID
	sender    Sender
	position  *domain.CaretPos
	selection *domain.SelectionRange
}

// flushCmd is posted by a throttle/debounce timer; gen guards against a
// timer that fired concurrently with its own replacement.
type flushCmd struct {
	key taskKey
	gen uint64
}

func (joinCmd) cmd()       {}
func (leaveCmd) cmd()      {}
func (closeCmd) cmd()      {}
func (askCmd) cmd()        {}
func (decideCmd) cmd()     {}
func (canvasCmd) cmd()     {}
func (codeCmd) cmd()       {}
func (questionCmd) cmd()   {}
func (cursorCmd) cmd()     {}
func (codeCursorCmd) cmd() {}
func (flushCmd) cmd()      {}
