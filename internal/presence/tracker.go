package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/easel-labs/easel/backend/internal/metrics"
)

// Close code sent when the inactivity sweep evicts a connection
const closeNormal = 1000

// Conn is the tracker's view of a presence connection. Implementations
// must tolerate concurrent writes and writes racing a close.
type Conn interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// RoomLifecycle is what the tracker needs from the room registry.
type RoomLifecycle interface {
	ScheduleDestroyIfEmpty(roomCode string)
	CancelDestroy(roomCode string)
}

// Entry is one presence connection's metadata.
type Entry struct {
	ID          string
	RoomCode    string
	UserName    string
	Color       string
	ConnectedAt time.Time
	LastActive  time.Time

	conn Conn
}

type Config struct {
	// Idle time after which a connection is force-closed
	InactiveTimeout time.Duration

	// How often the eviction sweep runs
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		InactiveTimeout: 10 * time.Minute,
		SweepInterval:   time.Minute,
	}
}

// Tracker owns all presence entries and drives the active-users view.
// When a room's last entry leaves, the tracker hands the room to the
// registry for delayed teardown.
type Tracker struct {
	rooms  RoomLifecycle
	log    *slog.Logger
	config Config

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // insertion order for the active-users view

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewTracker(rooms RoomLifecycle, logger *slog.Logger, config Config) *Tracker {
	return &Tracker{
		rooms:   rooms,
		log:     logger,
		config:  config,
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
	}
}

func (t *Tracker) Start() {
	t.wg.Add(1)
	go t.run()
}

func (t *Tracker) Stop() {
	close(t.stop)
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweepOnce(time.Now())
		}
	}
}

// Register inserts a presence entry, keeps the room alive, and pushes a
// fresh active-users view to the room.
func (t *Tracker) Register(id, roomCode, userName, color string, conn Conn) {
	now := time.Now()
	t.mu.Lock()
	t.entries[id] = &Entry{
		ID:          id,
		RoomCode:    roomCode,
		UserName:    userName,
		Color:       color,
		ConnectedAt: now,
		LastActive:  now,
		conn:        conn,
	}
	t.order = append(t.order, id)
	t.mu.Unlock()

	t.rooms.CancelDestroy(roomCode)
	t.log.Info("user joined", "user", userName, "room", roomCode, "client", id)
	t.Broadcast(roomCode)
}

// HeartbeatTick refreshes an entry's liveness timestamp.
func (t *Tracker) HeartbeatTick(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.LastActive = time.Now()
	}
}

// Unregister removes an entry. If the room is now empty its teardown is
// scheduled; either way the remaining users get a fresh view.
func (t *Tracker) Unregister(id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.entries, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	empty := !t.hasUsersLocked(e.RoomCode)
	t.mu.Unlock()

	t.log.Info("user left", "user", e.UserName, "room", e.RoomCode, "client", id)

	if empty {
		t.rooms.ScheduleDestroyIfEmpty(e.RoomCode)
	}
	t.Broadcast(e.RoomCode)
}

// ActiveUsers returns the room's live entries in insertion order.
func (t *Tracker) ActiveUsers(roomCode string) []User {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeUsersLocked(roomCode)
}

func (t *Tracker) activeUsersLocked(roomCode string) []User {
	users := make([]User, 0)
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok || e.RoomCode != roomCode {
			continue
		}
		users = append(users, User{
			ClientID: e.ID,
			UserName: e.UserName,
			Color:    e.Color,
			RoomCode: e.RoomCode,
		})
	}
	return users
}

// Broadcast sends the current active-users view to every presence
// connection in the room. Connections that are mid-close just drop the
// frame.
func (t *Tracker) Broadcast(roomCode string) {
	t.mu.Lock()
	users := t.activeUsersLocked(roomCode)
	conns := make([]Conn, 0, len(users))
	for _, id := range t.order {
		if e, ok := t.entries[id]; ok && e.RoomCode == roomCode {
			conns = append(conns, e.conn)
		}
	}
	t.mu.Unlock()

	msg := ActiveUsersMessage{Type: MessageActiveUsers, Users: users}
	for _, c := range conns {
		if err := c.WriteJSON(msg); err != nil {
			t.log.Debug("failed to send active users update", "room", roomCode, "err", err)
		}
	}
	metrics.PresenceBroadcasts.Inc()
}

// HasUsers reports whether any presence entry references the room.
func (t *Tracker) HasUsers(roomCode string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasUsersLocked(roomCode)
}

func (t *Tracker) hasUsersLocked(roomCode string) bool {
	for _, e := range t.entries {
		if e.RoomCode == roomCode {
			return true
		}
	}
	return false
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// sweepOnce force-closes and unregisters every entry idle beyond the
// threshold. This is the backstop for clients that stopped responding
// without a close event.
func (t *Tracker) sweepOnce(now time.Time) {
	t.mu.Lock()
	var stale []*Entry
	for _, e := range t.entries {
		if now.Sub(e.LastActive) > t.config.InactiveTimeout {
			stale = append(stale, e)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		t.log.Info("cleaning up inactive user", "user", e.UserName, "room", e.RoomCode)
		if err := e.conn.Close(closeNormal, "Inactive timeout"); err != nil {
			t.log.Debug("close failed for inactive connection", "client", e.ID, "err", err)
		}
		t.Unregister(e.ID)
	}
}
