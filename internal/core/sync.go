package core

import (
	"github.com/dkeye/peerboard/internal/domain"
	"github.com/dkeye/peerboard/internal/protocol"
)

// Canvas channel: whole-document replace, trailing-edge throttled per
// connection. Updates landing inside an open window only replace the
// pending scene; the window timer is never extended.
func (r *Room) handleCanvas(c canvasCmd) {
	if _, ok := r.requireMember(c.conn, c.sender); !ok {
		return
	}
	r.throttle(taskKey{conn: c.conn, kind: taskCanvas}, r.timings.CanvasWindow, func(d *deferred) {
		d.scene = c.scene
	})
}

// Code channel: debounced per connection; only the last update before the
// sender goes quiet is applied. Partial updates leave the other field alone.
func (r *Room) handleCode(c codeCmd) {
	if _, ok := r.requireMember(c.conn, c.sender); !ok {
		return
	}
	r.debounce(taskKey{conn: c.conn, kind: taskCode}, r.timings.CodeQuiet, func(d *deferred) {
		d.code = c.code
		d.language = c.language
	})
}

// Question pointer changes rarely: applied and broadcast immediately.
func (r *Room) handleQuestion(c questionCmd) {
	sess, ok := r.requireMember(c.conn, c.sender)
	if !ok {
		return
	}
	r.meta.QuestionLink = c.link
	r.broadcast(c.conn, protocol.QuestionEvent{
		Type:         protocol.EvtQuestionUpdate,
		RoomID:       r.meta.ID,
		UserID:       sess.member.UserID,
		QuestionLink: c.link,
	})
}

// Pointer cursors pass straight through; the producing UI rate-limits at
// the source. A nil pointer is a tombstone: the entry is removed and the
// removal (not a stored null) is broadcast.
func (r *Room) handleCursor(c cursorCmd) {
	sess, ok := r.requireMember(c.conn, c.sender)
	if !ok {
		return
	}
	uid := sess.member.UserID
	pos := domain.CursorPosition{UserID: uid, Name: sess.member.Name, Pointer: c.pointer}
	if c.pointer == nil {
		delete(r.cursors, uid)
	} else {
		r.cursors[uid] = pos
	}
	r.broadcast(c.conn, protocol.CursorEvent{
		Type:           protocol.EvtCursorUpdate,
		RoomID:         r.meta.ID,
		CursorPosition: pos,
	})
}

func (r *Room) handleCodeCursor(c codeCursorCmd) {
	if _, ok := r.requireMember(c.conn, c.sender); !ok {
		return
	}
	r.debounce(taskKey{conn: c.conn, kind: taskCodeCursor}, r.timings.CodeCursorQuiet, func(d *deferred) {
		d.caret = c.position
		d.selection = c.selection
	})
}

// handleFlush applies a deferred update when its timer fires. A stale
// generation means the task was replaced or canceled after the timer went
// off; the flush is then a no-op.
func (r *Room) handleFlush(c flushCmd) {
	d, ok := r.tasks[c.key]
	if !ok || d.gen != c.gen {
		return
	}
	delete(r.tasks, c.key)

	sess, ok := r.members[c.key.conn]
	if !ok {
		return
	}
	uid := sess.member.UserID

	switch c.key.kind {
	case taskCanvas:
		r.meta.CanvasData = d.scene
		r.broadcast(c.key.conn, protocol.CanvasEvent{
			Type:   protocol.EvtCanvasUpdate,
			RoomID: r.meta.ID,
			UserID: uid,
			Scene:  d.scene,
		})
	case taskCode:
		if d.code != nil {
			r.meta.CodeData = *d.code
		}
		if d.language != nil {
			r.meta.CodeLanguage = *d.language
		}
		r.broadcast(c.key.conn, protocol.CodeEvent{
			Type:     protocol.EvtCodeUpdate,
			RoomID:   r.meta.ID,
			UserID:   uid,
			Code:     r.meta.CodeData,
			Language: r.meta.CodeLanguage,
		})
	case taskCodeCursor:
		pos := domain.CodeCursorPosition{
			UserID:    uid,
			Name:      sess.member.Name,
			Position:  d.caret,
			Selection: d.selection,
		}
		if d.caret == nil {
			delete(r.codeCursors, uid)
			pos.Selection = nil
		} else {
			r.codeCursors[uid] = pos
		}
		r.broadcast(c.key.conn, protocol.CodeCursorEvent{
			Type:               protocol.EvtCodeCursorUpdate,
			RoomID:             r.meta.ID,
			CodeCursorPosition: pos,
		})
	}
}
