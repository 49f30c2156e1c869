// Read-only WebSocket telemetry mirror.
//
// Serves the same outbound message stream the serial transport emits
// (roasterState, roastEvent, error, log) to any number of WebSocket
// observers.
//
// The mirror never accepts commands: inbound frames are read and
// discarded so the connection's control frames keep flowing, nothing
// more. It observes the core only through the transport tap, off the
// tick loop's goroutine.
//
// Copyright (C) 2026  roastctl authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"roastctl/pkg/log"
)

const (
	wsSendBuffer    = 64
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsReadDeadline  = 60 * time.Second
	wsMaxInboundLen = 1024
)

// WSMirror is the mirror server. Broadcast is safe to call from any
// goroutine.
type WSMirror struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *log.Logger

	clients  map[int64]*wsClient
	clientMu sync.RWMutex
	nextID   int64
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closer sync.Once
}

// NewWSMirror creates a mirror that will listen on addr (e.g. ":8181").
func NewWSMirror(addr string) *WSMirror {
	m := &WSMirror{
		addr:    addr,
		logger:  log.New("wsmirror"),
		clients: make(map[int64]*wsClient),
	}
	m.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return m
}

// Start begins serving in a background goroutine.
func (m *WSMirror) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", m.handleTelemetry)
	m.server = &http.Server{Addr: m.addr, Handler: mux}
	go func() {
		m.logger.Info("telemetry mirror listening on %s", m.addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("mirror server: %v", err)
		}
	}()
}

// Shutdown stops the server and drops all clients.
func (m *WSMirror) Shutdown(ctx context.Context) error {
	m.clientMu.Lock()
	for _, c := range m.clients {
		c.close()
	}
	m.clients = make(map[int64]*wsClient)
	m.clientMu.Unlock()
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Broadcast fans one serialized message out to every connected client.
// A client whose send buffer is full loses the message rather than
// stalling the broadcaster.
func (m *WSMirror) Broadcast(msg []byte) {
	cp := make([]byte, len(msg))
	copy(cp, msg)

	m.clientMu.RLock()
	defer m.clientMu.RUnlock()
	for _, c := range m.clients {
		select {
		case c.sendCh <- cp:
		case <-c.done:
		default:
			m.logger.Debug("dropping message to client %d (buffer full)", c.id)
		}
	}
}

// ClientCount reports the number of connected observers.
func (m *WSMirror) ClientCount() int {
	m.clientMu.RLock()
	defer m.clientMu.RUnlock()
	return len(m.clients)
}

func (m *WSMirror) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		id:     atomic.AddInt64(&m.nextID, 1),
		conn:   conn,
		sendCh: make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
	}
	m.clientMu.Lock()
	m.clients[c.id] = c
	m.clientMu.Unlock()
	m.logger.Info("client %d connected from %s", c.id, r.RemoteAddr)

	go c.writePump(m)
	go c.readPump(m)
}

func (m *WSMirror) removeClient(c *wsClient) {
	m.clientMu.Lock()
	delete(m.clients, c.id)
	m.clientMu.Unlock()
}

func (c *wsClient) close() {
	c.closer.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump drains and discards inbound frames. The mirror is read-only;
// reading is required only so close and pong control frames are
// processed.
func (c *wsClient) readPump(m *WSMirror) {
	defer func() {
		m.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(wsMaxInboundLen)
	c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump(m *WSMirror) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Debug("client %d write: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
