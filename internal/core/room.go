package core

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/domain"
)

// inboxSize bounds how many commands may queue per room before Post starts
// shedding load. Posting never blocks the caller.
const inboxSize = 256

type session struct {
	member domain.Member
	sender Sender
}

type pendingJoin struct {
	req    domain.JoinRequest
	sender Sender
}

// Room is a single-room actor. All fields below mu/inbox are owned by the
// Run goroutine exclusively.
type Room struct {
	meta    *domain.Room
	timings Timings

	mu      sync.Mutex
	stopped bool
	inbox   chan command

	detach func(*Room)
	count  atomic.Int64

	dead        bool
	members     map[domain.ConnID]*session
	byUser      map[domain.UserID]domain.ConnID
	pending     map[domain.ConnID]*pendingJoin
	approved    map[domain.UserID]bool
	cursors     map[domain.UserID]domain.CursorPosition
	codeCursors map[domain.UserID]domain.CodeCursorPosition
	tasks       map[taskKey]*deferred
	taskGen     uint64
}

// NewRoom builds an actor around the given room state. detach is invoked
// once, after the actor tore down, so the owner can drop its reference.
func NewRoom(meta *domain.Room, timings Timings, detach func(*Room)) *Room {
	return &Room{
		meta:        meta,
		timings:     timings,
		inbox:       make(chan command, inboxSize),
		detach:      detach,
		members:     make(map[domain.ConnID]*session),
		byUser:      make(map[domain.UserID]domain.ConnID),
		pending:     make(map[domain.ConnID]*pendingJoin),
		approved:    make(map[domain.UserID]bool),
		cursors:     make(map[domain.UserID]domain.CursorPosition),
		codeCursors: make(map[domain.UserID]domain.CodeCursorPosition),
		tasks:       make(map[taskKey]*deferred),
	}
}

// Run consumes the inbox until the room stops. It must run in its own
// goroutine; the owner starts it right after NewRoom.
func (r *Room) Run() {
	log.Debug().Str("module", "core.room").Str("room", string(r.meta.ID)).Msg("room actor started")
	for c := range r.inbox {
		r.dispatch(c)
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.meta.ID)).Msg("room actor stopped")
}

func (r *Room) dispatch(c command) {
	if r.dead {
		// Commands drained after teardown: the room no longer exists.
		r.rejectDead(c)
		return
	}
	switch c := c.(type) {
	case joinCmd:
		r.handleJoin(c)
	case leaveCmd:
		r.handleLeave(c)
	case closeCmd:
		r.handleClose()
	case askCmd:
		r.handleAsk(c)
	case decideCmd:
		r.handleDecide(c)
	case canvasCmd:
		r.handleCanvas(c)
	case codeCmd:
		r.handleCode(c)
	case questionCmd:
		r.handleQuestion(c)
	case cursorCmd:
		r.handleCursor(c)
	case codeCursorCmd:
		r.handleCodeCursor(c)
	case flushCmd:
		r.handleFlush(c)
	}
}

// rejectDead answers commands that were already queued when the room tore
// down. Senders get the same answer a fresh message would: room not found.
func (r *Room) rejectDead(c command) {
	var s Sender
	switch c := c.(type) {
	case joinCmd:
		s = c.sender
	case askCmd:
		s = c.sender
	case decideCmd:
		s = c.sender
	case canvasCmd:
		s = c.sender
	case codeCmd:
		s = c.sender
	case questionCmd:
		s = c.sender
	case cursorCmd:
		s = c.sender
	case codeCursorCmd:
		s = c.sender
	default:
		return
	}
	r.sendError(s, "room not found")
}

// Post enqueues a command unless the room has stopped. It never blocks: a
// full inbox drops the command, which at-most-once delivery permits.
func (r *Room) Post(c command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.inbox <- c:
		return true
	default:
		log.Warn().Str("module", "core.room").Str("room", string(r.meta.ID)).Msg("room inbox full, dropping command")
		return false
	}
}

// stop tears the actor down. Only called from the Run goroutine.
func (r *Room) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.inbox)
	r.mu.Unlock()

	r.dead = true
	for _, d := range r.tasks {
		d.cancel()
	}
	r.tasks = make(map[taskKey]*deferred)
	r.members = make(map[domain.ConnID]*session)
	r.byUser = make(map[domain.UserID]domain.ConnID)
	r.pending = make(map[domain.ConnID]*pendingJoin)
	r.cursors = make(map[domain.UserID]domain.CursorPosition)
	r.codeCursors = make(map[domain.UserID]domain.CodeCursorPosition)
	r.count.Store(0)

	if r.detach != nil {
		r.detach(r)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).Msg("room destroyed")
}

// --- read-only accessors, safe from any goroutine ---

func (r *Room) ID() domain.RoomID        { return r.meta.ID }
func (r *Room) CreatorID() domain.UserID { return r.meta.CreatedBy }
func (r *Room) CreatedByName() string    { return r.meta.CreatedByName }
func (r *Room) IsOpen() bool             { return r.meta.Open }
func (r *Room) MemberCount() int         { return int(r.count.Load()) }

func (r *Room) Info() RoomInfo {
	return RoomInfo{
		ID:            r.meta.ID,
		CreatedByName: r.meta.CreatedByName,
		Open:          r.meta.Open,
		MemberCount:   r.MemberCount(),
	}
}

// --- posting API used by the gateway, the HTTP surface and tests ---

func (r *Room) Join(m domain.Member, s Sender) bool {
	return r.Post(joinCmd{member: m, sender: s})
}

func (r *Room) Leave(conn domain.ConnID) bool {
	return r.Post(leaveCmd{conn: conn})
}

// Disconnect is the synthesized leave for a dropped connection; it also
// silently discards a pending join request from that connection.
func (r *Room) Disconnect(conn domain.ConnID) bool {
	return r.Post(leaveCmd{conn: conn, disconnect: true})
}

func (r *Room) Close() bool {
	return r.Post(closeCmd{})
}

func (r *Room) AskToJoin(req domain.JoinRequest, s Sender) bool {
	return r.Post(askCmd{req: req, sender: s})
}

func (r *Room) Decide(conn domain.ConnID, s Sender, target domain.ConnID, approved bool) bool {
	return r.Post(decideCmd{conn: conn, sender: s, target: target, approved: approved})
}

func (r *Room) UpdateCanvas(conn domain.ConnID, s Sender, scene json.RawMessage) bool {
	return r.Post(canvasCmd{conn: conn, sender: s, scene: scene})
}

func (r *Room) UpdateCode(conn domain.ConnID, s Sender, code, language *string) bool {
	return r.Post(codeCmd{conn: conn, sender: s, code: code, language: language})
}

func (r *Room) UpdateQuestion(conn domain.ConnID, s Sender, link *string) bool {
	return r.Post(questionCmd{conn: conn, sender: s, link: link})
}

func (r *Room) UpdateCursor(conn domain.ConnID, s Sender, pointer *domain.PointerPos) bool {
	return r.Post(cursorCmd{conn: conn, sender: s, pointer: pointer})
}

func (r *Room) UpdateCodeCursor(conn domain.ConnID, s Sender, pos *domain.CaretPos, sel *domain.SelectionRange) bool {
	return r.Post(codeCursorCmd{conn: conn, sender: s, position: pos, selection: sel})
}
