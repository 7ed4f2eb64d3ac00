package core

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/protocol"
)

func (r *Room) handleAsk(c askCmd) {
	if _, isMember := r.members[c.req.ConnID]; isMember {
		return
	}

	// An already-admitted identity (open room, creator, prior approval)
	// skips the queue and is told to proceed with join_room.
	if r.admitted(c.req.UserID) {
		r.send(c.sender, protocol.JoinDecisionEvent{Type: protocol.EvtJoinApproved, RoomID: r.meta.ID})
		return
	}

	// A repeat ask from a connection that is already pending collapses into
	// the original entry; members are not notified again.
	if _, alreadyPending := r.pending[c.req.ConnID]; alreadyPending {
		return
	}

	r.pending[c.req.ConnID] = &pendingJoin{req: c.req, sender: c.sender}
	r.broadcast("", protocol.JoinRequestEvent{
		Type:        protocol.EvtJoinRequest,
		RoomID:      r.meta.ID,
		JoinRequest: c.req,
	})
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("conn", string(c.req.ConnID)).Str("user", string(c.req.UserID)).Msg("join request queued")
}

func (r *Room) handleDecide(c decideCmd) {
	// Any current member may decide; the core enforces no admin role.
	if _, ok := r.requireMember(c.conn, c.sender); !ok {
		return
	}

	p, ok := r.pending[c.target]
	if !ok {
		r.sendError(c.sender, "no pending join request for that connection")
		return
	}
	delete(r.pending, c.target)

	if c.approved {
		// Approval sticks to the user id for the room's lifetime, so the
		// follow-up join_room (and reconnects) pass the admission gate.
		r.approved[p.req.UserID] = true
		r.send(p.sender, protocol.JoinDecisionEvent{Type: protocol.EvtJoinApproved, RoomID: r.meta.ID})
	} else {
		r.send(p.sender, protocol.JoinDecisionEvent{Type: protocol.EvtJoinDenied, RoomID: r.meta.ID})
	}
	log.Info().Str("module", "core.room").Str("room", string(r.meta.ID)).
		Str("requester", string(c.target)).Bool("approved", c.approved).Msg("join request resolved")
}
