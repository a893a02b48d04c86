// Copyright 2026 The BMM Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ojuolokun86/BMM2-sub000/lib/ref"
	"github.com/ojuolokun86/BMM2-sub000/protocol"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// pairingMessage is the wire form of a pairing artifact.
type pairingMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	QRCode   string `json:"qr_code,omitempty"`
	Code     string `json:"code,omitempty"`
}

// statusMessage is the wire form of a registration status.
type statusMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// conn wraps one front-end websocket and serializes outbound writes
// through a buffered channel. A slow client is disconnected rather
// than allowed to block delivery.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// deliver enqueues payload without blocking. It reports false when
// the buffer is full; the caller drops the connection.
func (c *conn) deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// Relay is the websocket Channel implementation. Front ends connect
// with GET /?owner=<owner-id> and receive the owner's events as JSON
// text messages. One owner may hold several connections; every event
// goes to all of them.
type Relay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[ref.OwnerID]map[*conn]struct{}
}

var _ Channel = (*Relay)(nil)

// NewRelay builds a Relay. logger may be nil to discard logs.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[ref.OwnerID]map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection under
// its owner.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	owner, err := ref.NewOwnerID(req.URL.Query().Get("owner"))
	if err != nil {
		http.Error(w, "missing owner", http.StatusBadRequest)
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "owner_id", owner, "error", err)
		return
	}

	c := newConn(ws)
	r.mu.Lock()
	if r.conns[owner] == nil {
		r.conns[owner] = make(map[*conn]struct{})
	}
	r.conns[owner][c] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("front end connected", "owner_id", owner)

	go c.writeLoop()

	// Inbound frames are not part of the contract; read only to
	// notice disconnection.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	r.drop(owner, c)
}

func (r *Relay) drop(owner ref.OwnerID, c *conn) {
	r.mu.Lock()
	if set := r.conns[owner]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, owner)
		}
	}
	r.mu.Unlock()
	c.shutdown()
	r.logger.Debug("front end disconnected", "owner_id", owner)
}

// broadcast sends payload to every connection of owner, dropping
// connections whose buffers are full.
func (r *Relay) broadcast(owner ref.OwnerID, payload []byte) {
	r.mu.Lock()
	targets := make([]*conn, 0, len(r.conns[owner]))
	for c := range r.conns[owner] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if !c.deliver(payload) {
			r.drop(owner, c)
		}
	}
}

func (r *Relay) DeliverPairing(owner ref.OwnerID, tenant ref.TenantID, artifact protocol.PairingArtifact) {
	payload, err := json.Marshal(pairingMessage{
		Type:     "pairing_artifact",
		TenantID: tenant.String(),
		QRCode:   artifact.QRCode,
		Code:     artifact.Code,
	})
	if err != nil {
		r.logger.Error("encoding pairing artifact", "owner_id", owner, "error", err)
		return
	}
	r.broadcast(owner, payload)
}

func (r *Relay) DeliverStatus(owner ref.OwnerID, status RegistrationStatus) {
	payload, err := json.Marshal(statusMessage{
		Type:     "registration_status",
		TenantID: status.TenantID.String(),
		Success:  status.Success,
		Message:  status.Message,
	})
	if err != nil {
		r.logger.Error("encoding registration status", "owner_id", owner, "error", err)
		return
	}
	r.broadcast(owner, payload)
}
