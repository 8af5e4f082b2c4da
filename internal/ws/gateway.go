package ws

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/easel-labs/easel/backend/internal/metrics"
	"github.com/easel-labs/easel/backend/internal/presence"
	"github.com/easel-labs/easel/backend/internal/ratelimit"
	"github.com/easel-labs/easel/backend/internal/room"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	maxPresenceMessage = 4096
)

// Gateway admits WebSocket connections into rooms. Presence connections
// (type=awareness) are registered with the tracker; everything else is a
// sync connection handed to the room's document handle.
type Gateway struct {
	limiter   *ratelimit.SlidingWindow
	rooms     *room.Registry
	tracker   *presence.Tracker
	log       *slog.Logger
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

func NewGateway(limiter *ratelimit.SlidingWindow, rooms *room.Registry, tracker *presence.Tracker, logger *slog.Logger, heartbeat time.Duration) *Gateway {
	return &Gateway{
		limiter:   limiter,
		rooms:     rooms,
		tracker:   tracker,
		log:       logger,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", "err", err)
		return
	}

	if !g.limiter.Allow(ip) {
		metrics.RateLimited.WithLabelValues("ws").Inc()
		g.log.Warn("too many connections", "ip", ip)
		closeWith(conn, websocket.ClosePolicyViolation, "Too many connections from your IP")
		return
	}

	query := r.URL.Query()

	roomCode := query.Get("room")
	if roomCode == "" {
		closeWith(conn, websocket.CloseNormalClosure, "No room code provided")
		return
	}

	channel := query.Get("type")
	userName := SanitizeName(query.Get("username"))
	color := NormalizeColor(query.Get("color"))

	doc := g.rooms.GetOrCreate(roomCode)

	if channel == "awareness" {
		metrics.ConnectionsTotal.WithLabelValues("awareness").Inc()
		g.servePresence(conn, roomCode, userName, color)
		return
	}

	metrics.ConnectionsTotal.WithLabelValues("sync").Inc()
	doc.Attach(conn)
}

// servePresence runs the presence read loop until the connection closes.
// Any failure here is connection-local: the entry is cleaned up and the
// gateway keeps serving.
func (g *Gateway) servePresence(conn *websocket.Conn, roomCode, userName, color string) {
	pc := newPresenceConn(conn)
	id := uuid.NewString()

	stopPing := make(chan struct{})

	// Inc precedes the deferred Dec so a panic below cannot drift the gauge
	metrics.ActiveConnections.Inc()

	defer func() {
		if v := recover(); v != nil {
			g.log.Error("presence handler panic", "client", id, "panic", v)
		}
		close(stopPing)
		metrics.ActiveConnections.Dec()
		g.tracker.Unregister(id)
		conn.Close()
	}()

	conn.SetReadLimit(maxPresenceMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		g.tracker.HeartbeatTick(id)
		return nil
	})

	g.tracker.Register(id, roomCode, userName, color, pc)

	go g.pingLoop(pc, stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Debug("presence connection error", "client", id, "err", err)
			}
			return
		}

		switch presence.ParseMessage(data) {
		case presence.KindLivenessAck:
			g.tracker.HeartbeatTick(id)
		default:
			// Protocol noise, ignored
		}
	}
}

// pingLoop probes the connection at the heartbeat interval so well-behaved
// idle clients stay alive at the transport layer.
func (g *Gateway) pingLoop(pc *presenceConn, stop chan struct{}) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := pc.Ping(); err != nil {
				g.log.Debug("ping failed, closing connection", "err", err)
				pc.conn.Close()
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
