package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peerboard/internal/domain"
)

// Registry is the process-wide map from room id to live actor. Actors are
// created lazily and remove themselves once empty or closed.
type Registry struct {
	mu      sync.RWMutex
	timings Timings
	rooms   map[domain.RoomID]*Room
}

func NewRegistry(timings Timings) *Registry {
	return &Registry{
		timings: timings,
		rooms:   make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the live actor for meta.ID, creating and starting one
// from the supplied state if absent.
func (g *Registry) GetOrCreate(meta *domain.Room) *Room {
	g.mu.RLock()
	room, ok := g.rooms[meta.ID]
	g.mu.RUnlock()
	if ok {
		return room
	}
	room, _ = g.Create(meta)
	return room
}

// Create inserts and starts an actor for meta.ID. When the id is already
// live it reports false and returns the existing actor; meta is discarded.
// Callers that must not adopt someone else's room use this instead of a
// Get-then-GetOrCreate pair, which loses the race between the two calls.
func (g *Registry) Create(meta *domain.Room) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[meta.ID]; ok {
		return room, false
	}
	room := NewRoom(meta, g.timings, g.remove)
	g.rooms[meta.ID] = room
	go room.Run()
	log.Info().Str("module", "core.registry").Str("room", string(meta.ID)).
		Bool("open", meta.Open).Msg("room created")
	return room, true
}

func (g *Registry) Get(id domain.RoomID) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	return room, ok
}

// remove is the actor's detach callback. The instance check keeps a
// stopping actor from evicting a newer room reusing the same id.
func (g *Registry) remove(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room.ID()] == room {
		delete(g.rooms, room.ID())
	}
}

func (g *Registry) List() []RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RoomInfo, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.Info())
	}
	return out
}

// CloseAll posts a close to every live room; used on process shutdown so
// members receive room_closed instead of a bare connection drop.
func (g *Registry) CloseAll() {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	for _, r := range rooms {
		r.Close()
	}
}
