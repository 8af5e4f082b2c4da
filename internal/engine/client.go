package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/easel-labs/easel/backend/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

type client struct {
	doc      *doc
	conn     *websocket.Conn
	send     chan []byte
	bucket   *ratelimit.Bucket
	clientID string
}

func (d *doc) Attach(conn *websocket.Conn) {
	c := &client{
		doc:      d,
		conn:     conn,
		send:     make(chan []byte, 512),
		bucket:   ratelimit.NewBucket(messagesPerSecond, messageBurst),
		clientID: uuid.NewString(),
	}

	select {
	case d.register <- c:
	case <-d.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.doc.unregister <- c:
		case <-c.doc.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.doc.log.Warn("sync connection error", "room", c.doc.roomCode, "err", err)
			}
			break
		}

		if !c.bucket.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.doc.log.Warn("message rate exceeded",
					"client", c.clientID, "room", c.doc.roomCode, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				c.doc.log.Warn("disconnecting client for excessive rate violations",
					"client", c.clientID, "room", c.doc.roomCode)
				return
			}
			continue
		}

		if err := ValidateFrame(message); err != nil {
			c.doc.log.Debug("dropping invalid frame", "client", c.clientID, "err", err)
			continue
		}

		select {
		case c.doc.broadcast <- &frame{data: message, sender: c}:
		case <-c.doc.done:
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.BinaryMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
