// Package transport implements the driver's Transport collaborator
// (spec.md §1, §4.8) over a single WebSocket connection: one bidirectional
// stream of framed string messages per widget session.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = (pongTimeout * 9) / 10
	inboxCapacity = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Widget frames carry no same-origin assumption of their own; the
		// embedding host is responsible for which origins are allowed to
		// open a widget session in the first place (spec.md §1's "out of
		// scope: widget hosting/sandboxing itself").
		return true
	},
}

// WebSocket is a Transport backed by a single *websocket.Conn.
type WebSocket struct {
	conn     *websocket.Conn
	incoming chan []byte
	closed   chan struct{}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// read pump, returning a ready-to-use WebSocket transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}
	return newWebSocket(conn), nil
}

func newWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		conn:     conn,
		incoming: make(chan []byte, inboxCapacity),
		closed:   make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	go ws.readPump()
	go ws.pingPump()

	return ws
}

// Incoming returns the channel of inbound frames. It is closed once the
// connection is closed or its read pump errors.
func (ws *WebSocket) Incoming() <-chan []byte {
	return ws.incoming
}

// Send writes a single frame, respecting ctx's deadline.
func (ws *WebSocket) Send(ctx context.Context, frame []byte) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection and stops both pumps.
func (ws *WebSocket) Close() error {
	select {
	case <-ws.closed:
		return nil
	default:
		close(ws.closed)
	}
	return ws.conn.Close()
}

func (ws *WebSocket) readPump() {
	defer close(ws.incoming)
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case ws.incoming <- data:
		case <-ws.closed:
			return
		}
	}
}

func (ws *WebSocket) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.closed:
			return
		}
	}
}
