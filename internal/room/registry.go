package room

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easel-labs/easel/backend/internal/db"
	"github.com/easel-labs/easel/backend/internal/engine"
	"github.com/easel-labs/easel/backend/internal/metrics"
)

const (
	codeLength      = 4
	maxCodeAttempts = 10
)

var ErrCodesExhausted = errors.New("room code generation exhausted")

// A live collaboration space backed by one document handle
type Room struct {
	Code      string
	Doc       engine.Doc
	CreatedAt time.Time

	// Armed while the room has no presence entries; a join cancels it
	pending *time.Timer
}

// OccupancyFunc reports whether any presence entry references the room.
// Consulted again when a grace timer fires, so a join that raced the
// scheduled teardown keeps the room alive.
type OccupancyFunc func(roomCode string) bool

// Registry owns the mapping from room codes to live rooms. Codes are
// unique among live rooms; teardown of an empty room is delayed by a
// grace period and canceled by any new join.
type Registry struct {
	engine   engine.Engine
	database *db.Database
	log      *slog.Logger
	grace    time.Duration

	mu       sync.Mutex
	rooms    map[string]*Room
	occupied OccupancyFunc
	newCode  func() string
}

func NewRegistry(eng engine.Engine, database *db.Database, logger *slog.Logger, grace time.Duration) *Registry {
	return &Registry{
		engine:   eng,
		database: database,
		log:      logger,
		grace:    grace,
		rooms:    make(map[string]*Room),
		newCode:  generateCode,
	}
}

func generateCode() string {
	return strings.ToUpper(uuid.NewString()[:codeLength])
}

// SetOccupancy wires in the presence-side occupancy check. Must be called
// before any room can become empty.
func (r *Registry) SetOccupancy(fn OccupancyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupied = fn
}

// Create generates a fresh unique room code and creates the room.
func (r *Registry) Create() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := r.newCode()
		if _, taken := r.rooms[code]; taken {
			continue
		}
		r.getOrCreateLocked(code)
		return code, nil
	}
	return "", ErrCodesExhausted
}

func (r *Registry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[code]
	return ok
}

// GetOrCreate returns the room's document handle, creating the room
// lazily on first reference. Any pending teardown is canceled.
func (r *Registry) GetOrCreate(code string) engine.Doc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(code).Doc
}

func (r *Registry) getOrCreateLocked(code string) *Room {
	if room, ok := r.rooms[code]; ok {
		r.cancelDestroyLocked(room)
		return room
	}

	room := &Room{
		Code:      code,
		Doc:       r.engine.NewDoc(code),
		CreatedAt: time.Now(),
	}
	r.rooms[code] = room
	metrics.ActiveRooms.Set(float64(len(r.rooms)))

	if r.database != nil {
		if err := r.database.CreateRoom(code); err != nil {
			r.log.Warn("failed to persist room", "room", code, "err", err)
		}
	}

	r.log.Info("room created", "room", code)
	return room
}

// ScheduleDestroyIfEmpty arms the grace timer for a room whose last
// presence entry just left. Re-arming replaces any earlier timer.
func (r *Registry) ScheduleDestroyIfEmpty(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return
	}

	if room.pending != nil {
		room.pending.Stop()
	}
	room.pending = time.AfterFunc(r.grace, func() {
		r.destroyIfEmpty(code)
	})
}

// CancelDestroy disarms a pending teardown. Safe to call when no timer is
// armed or the timer already fired.
func (r *Registry) CancelDestroy(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[code]; ok {
		r.cancelDestroyLocked(room)
	}
}

func (r *Registry) cancelDestroyLocked(room *Room) {
	if room.pending != nil {
		room.pending.Stop()
		room.pending = nil
	}
}

func (r *Registry) destroyIfEmpty(code string) {
	r.mu.Lock()

	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return
	}
	if room.pending == nil {
		// A cancellation beat the fired timer to the lock; the room stays.
		r.mu.Unlock()
		return
	}
	room.pending = nil
	if r.occupied != nil && r.occupied(code) {
		// A join raced the grace timer; the room stays.
		r.mu.Unlock()
		return
	}

	delete(r.rooms, code)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	room.Doc.Release()
	if r.database != nil {
		if err := r.database.DeleteRoom(code); err != nil {
			r.log.Warn("failed to delete room row", "room", code, "err", err)
		}
	}
	r.log.Info("cleaned up inactive room", "room", code)
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SyncConnections counts sync connections attached across all live rooms.
func (r *Registry) SyncConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, room := range r.rooms {
		n += room.Doc.Clients()
	}
	return n
}

// Stop disarms all pending teardown timers, for shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		r.cancelDestroyLocked(room)
	}
}
