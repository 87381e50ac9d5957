// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/playrelay/playrelay/internal/session"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up on it. Pings go out at a fraction of this.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendQueueSize is the per-connection outbound buffer. A client that
	// falls this far behind starts losing frames instead of stalling the
	// broadcast path.
	sendQueueSize = 32

	maxMessageSize = 64 * 1024
)

// client is one websocket connection. The handle is the trusted identity
// for everything this connection sends; it is minted at upgrade time and
// never derived from the payload.
type client struct {
	handle ulid.ULID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		handle: session.NewULID(),
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// enqueue queues a frame for delivery. Reports false when the client's
// buffer is full and the frame was dropped.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. It owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush anything already queued (the Closing notice in
			// particular) before dropping the connection.
			for {
				select {
				case data := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
