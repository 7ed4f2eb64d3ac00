package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/domain"
	"github.com/dkeye/peerboard/internal/protocol"
)

func (r *Room) handleJoin(c joinCmd) {
	m := c.member

	if _, ok := r.members[m.ConnID]; ok {
		// Resynchronizing member: just hand over a fresh snapshot.
		r.send(c.sender, protocol.NewRoomState(r.snapshot()))
		return
	}

	if !r.admitted(m.UserID) {
		if _, waiting := r.pending[m.ConnID]; waiting {
			// AwaitingApproval: silently no-op, never leak room_state.
			return
		}
		r.send(c.sender, protocol.AccessDeniedEvent{Type: protocol.EvtAccessDenied, RoomID: r.meta.ID})
		return
	}

	// A second connection under the same user id supersedes the first.
	// The identity never left, so no presence event is broadcast.
	if old, ok := r.byUser[m.UserID]; ok && old != m.ConnID {
		r.dropMember(old)
		log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
			Str("user", string(m.UserID)).Msg("superseded previous connection")
	}

	r.members[m.ConnID] = &session{member: m, sender: c.sender}
	r.byUser[m.UserID] = m.ConnID
	r.count.Store(int64(len(r.members)))

	r.send(c.sender, protocol.NewRoomState(r.snapshot()))
	r.broadcast(m.ConnID, protocol.NewPresence(protocol.PresenceJoined, m))
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("conn", string(m.ConnID)).Str("user", string(m.UserID)).Msg("member joined")
}

func (r *Room) handleLeave(c leaveCmd) {
	removed := false
	if sess, ok := r.members[c.conn]; ok {
		m := sess.member
		r.dropMember(c.conn)
		r.broadcast(c.conn, protocol.NewPresence(protocol.PresenceLeft, m))
		removed = true
		log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
			Str("conn", string(c.conn)).Str("user", string(m.UserID)).Msg("member left")
	}

	if c.disconnect {
		// A requester that vanished while pending is discarded silently.
		if _, ok := r.pending[c.conn]; ok {
			delete(r.pending, c.conn)
			removed = true
		}
	}

	if removed && len(r.members) == 0 && len(r.pending) == 0 {
		r.stop()
	}
}

func (r *Room) handleClose() {
	closed := protocol.RoomClosedEvent{Type: protocol.EvtRoomClosed, RoomID: r.meta.ID}
	for _, sess := range r.members {
		r.send(sess.sender, closed)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Int("members", len(r.members)).Msg("room closed by creator")
	r.stop()
}

// dropMember removes a connection's membership, its pending timers and the
// user's cursor entries. Presence broadcasting is up to the caller.
func (r *Room) dropMember(conn domain.ConnID) {
	sess, ok := r.members[conn]
	if !ok {
		return
	}
	r.cancelTasks(conn)
	uid := sess.member.UserID
	delete(r.members, conn)
	if r.byUser[uid] == conn {
		delete(r.byUser, uid)
		delete(r.cursors, uid)
		delete(r.codeCursors, uid)
	}
	r.count.Store(int64(len(r.members)))
}

func (r *Room) admitted(uid domain.UserID) bool {
	return r.meta.Open || uid == r.meta.CreatedBy || r.approved[uid]
}

func (r *Room) snapshot() domain.RoomState {
	members := make([]domain.Member, 0, len(r.members))
	for _, sess := range r.members {
		members = append(members, sess.member)
	}
	return r.meta.Snapshot(members)
}

// requireMember gates state-mutating commands: non-members get a unicast
// access-denied event and the command is dropped.
func (r *Room) requireMember(conn domain.ConnID, s Sender) (*session, bool) {
	sess, ok := r.members[conn]
	if !ok {
		r.send(s, protocol.AccessDeniedEvent{Type: protocol.EvtAccessDenied, RoomID: r.meta.ID})
	}
	return sess, ok
}

// broadcast fans an event out to every member except the excluded
// connection. Delivery is fire-and-forget: a full peer queue drops the
// event and disconnect detection cleans the member up later.
func (r *Room) broadcast(exclude domain.ConnID, event any) {
	for conn, sess := range r.members {
		if conn == exclude {
			continue
		}
		r.send(sess.sender, event)
	}
}

func (r *Room) send(s Sender, event any) {
	if err := s.TrySend(event); err != nil {
		log.Debug().Err(err).Str("module", "core.room").Str("room", string(r.meta.ID)).Msg("send dropped")
	}
}

func (r *Room) sendError(s Sender, msg string) {
	r.send(s, protocol.NewError(msg))
}
