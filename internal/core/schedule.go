package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/peerboard/internal/domain"
)

type taskKind int

const (
	taskCanvas taskKind = iota
	taskCode
	taskCodeCursor
)

// taskKey identifies one (connection, channel) pair. At most one deferred
// application exists per key; a new update replaces the pending payload and,
// for debounced channels, restarts the timer.
type taskKey struct {
	conn domain.ConnID
	kind taskKind
}

// deferred holds the payload of the most recent update on a rate-limited
// channel while its timer runs. Intermediate payloads are overwritten, so
// exactly the last value before the flush is applied.
type deferred struct {
	timer *time.Timer
	gen   uint64

	scene     json.RawMessage
	code      *string
	language  *string
	caret     *domain.CaretPos
	selection *domain.SelectionRange
}

func (d *deferred) cancel() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

// throttle applies trailing-edge semantics: the first update on an idle key
// arms the window timer, later updates within the window only replace the
// payload. mutate updates the stored payload in place.
func (r *Room) throttle(key taskKey, window time.Duration, mutate func(*deferred)) {
	if d, ok := r.tasks[key]; ok {
		mutate(d)
		return
	}
	r.schedule(key, window, mutate)
}

// debounce restarts the quiet-period timer on every update; only the last
// payload survives once the sender goes quiet.
func (r *Room) debounce(key taskKey, quiet time.Duration, mutate func(*deferred)) {
	if d, ok := r.tasks[key]; ok {
		d.cancel()
	}
	r.schedule(key, quiet, mutate)
}

func (r *Room) schedule(key taskKey, after time.Duration, mutate func(*deferred)) {
	r.taskGen++
	d := &deferred{gen: r.taskGen}
	mutate(d)
	gen := d.gen
	d.timer = time.AfterFunc(after, func() {
		r.postFlush(key, gen)
	})
	r.tasks[key] = d
}

// flushRetryDelay spaces out retries when a fired timer finds the inbox
// saturated.
const flushRetryDelay = 5 * time.Millisecond

// postFlush delivers a fired timer's flushCmd. Unlike ordinary posts a
// flush is never shed on a full inbox: shedding it would leave the deferred
// parked in r.tasks with a dead timer, and throttle would never re-arm that
// key. A saturated inbox re-arms a short retry instead.
func (r *Room) postFlush(key taskKey, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.inbox <- flushCmd{key: key, gen: gen}:
	default:
		time.AfterFunc(flushRetryDelay, func() {
			r.postFlush(key, gen)
		})
	}
}

// cancelTasks drops every pending deferred application owned by a
// departing connection so no stale update lands after it left.
func (r *Room) cancelTasks(conn domain.ConnID) {
	for key, d := range r.tasks {
		if key.conn == conn {
			d.cancel()
			delete(r.tasks, key)
		}
	}
}
