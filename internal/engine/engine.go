package engine

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/easel-labs/easel/backend/internal/compaction"
	"github.com/easel-labs/easel/backend/internal/db"
	"github.com/easel-labs/easel/backend/internal/metrics"
)

// Engine creates document handles for rooms. The sync wire format is owned
// entirely by the engine; callers treat frames as opaque bytes.
type Engine interface {
	NewDoc(roomCode string) Doc
}

// Doc is one room's shared document handle. All sync connections to a room
// share a single Doc.
type Doc interface {
	// Attach takes ownership of a sync connection: it runs the read and
	// write pumps until the connection closes.
	Attach(conn *websocket.Conn)

	// Clients returns the number of attached sync connections.
	Clients() int

	// Release detaches all clients and stops the document. The handle must
	// not be used afterwards.
	Release()
}

// Relay is the built-in engine: it broadcasts sync frames between the
// clients of a room and stores update frames so late joiners can catch up.
type Relay struct {
	database *db.Database
	log      *slog.Logger
}

func NewRelay(database *db.Database, logger *slog.Logger) *Relay {
	return &Relay{database: database, log: logger}
}

func (r *Relay) NewDoc(roomCode string) Doc {
	d := &doc{
		roomCode:   roomCode,
		database:   r.database,
		log:        r.log,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *frame),
		done:       make(chan struct{}),
	}

	if r.database != nil {
		// Compacted history comes first, then the raw log on top of it
		snapshot, _, err := r.database.GetSnapshot(roomCode)
		if err != nil {
			r.log.Warn("failed to load snapshot", "room", roomCode, "err", err)
		} else if len(snapshot) > 0 {
			d.updates = compaction.SplitMergedUpdates(snapshot)
		}

		updates, err := r.database.GetAllUpdates(roomCode)
		if err != nil {
			r.log.Warn("failed to load stored updates", "room", roomCode, "err", err)
		} else {
			d.updates = append(d.updates, updates...)
		}
	}

	go d.run()
	return d
}

type frame struct {
	data   []byte
	sender *client
}

type doc struct {
	roomCode string
	database *db.Database
	log      *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan *frame
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
	updates [][]byte
}

func (d *doc) run() {
	for {
		select {
		case c := <-d.register:
			d.mu.Lock()
			d.clients[c] = true
			// Catch-up: hand the stored update log to the new client
			for _, update := range d.updates {
				select {
				case c.send <- update:
				default:
				}
			}
			count := len(d.clients)
			d.mu.Unlock()

			metrics.ActiveConnections.Inc()
			d.log.Debug("sync client joined", "room", d.roomCode, "total", count)

		case c := <-d.unregister:
			d.mu.Lock()
			removed := false
			if _, ok := d.clients[c]; ok {
				delete(d.clients, c)
				close(c.send)
				removed = true
			}
			count := len(d.clients)
			d.mu.Unlock()

			if removed {
				metrics.ActiveConnections.Dec()
			}
			d.log.Debug("sync client left", "room", d.roomCode, "remaining", count)

		case f := <-d.broadcast:
			d.mu.Lock()
			if IsDocUpdate(f.data) {
				d.updates = append(d.updates, f.data)
				if d.database != nil {
					if err := d.database.SaveUpdate(d.roomCode, f.data); err != nil {
						d.log.Warn("failed to persist update", "room", d.roomCode, "err", err)
					}
				}
			}
			for c := range d.clients {
				if c == f.sender {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					close(c.send)
					delete(d.clients, c)
				}
			}
			d.mu.Unlock()

		case <-d.done:
			d.mu.Lock()
			for c := range d.clients {
				close(c.send)
				delete(d.clients, c)
				metrics.ActiveConnections.Dec()
			}
			d.mu.Unlock()
			return
		}
	}
}

func (d *doc) Clients() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

func (d *doc) Release() {
	close(d.done)
}
