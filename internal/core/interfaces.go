// Package core owns room lifecycle, presence, state synchronization and
// admission control. Each room is a single-goroutine actor fed through a
// command inbox; nothing outside that goroutine touches a room's state.
package core

import (
	"time"

	"github.com/dkeye/peerboard/internal/domain"
)

// Sender abstracts a member's outbound transport endpoint.
// Owned by the adapter; the adapter must close it. Sends never block:
// a full peer queue drops the event and returns an error.
type Sender interface {
	TrySend(event any) error
}

// Timings holds the rate-limit windows for the three throttled channels.
type Timings struct {
	CanvasWindow    time.Duration
	CodeQuiet       time.Duration
	CodeCursorQuiet time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		CanvasWindow:    200 * time.Millisecond,
		CodeQuiet:       300 * time.Millisecond,
		CodeCursorQuiet: 100 * time.Millisecond,
	}
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	ID            domain.RoomID `json:"roomId"`
	CreatedByName string        `json:"createdByName"`
	Open          bool          `json:"open"`
	MemberCount   int           `json:"memberCount"`
}
