// Package ws implements the WebSocket protocol façade (spec.md §6): an
// "init" frame carrying a full snapshot on connect, then a pump forwarding
// the coordinator's pre-serialized delta broadcasts.
package ws

import (
	"encoding/json"
	"net/http"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"github.com/pierrejay/dmxgateway/internal/coordinator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades connections to WS and pumps coordinator deltas.
type Handler struct {
	coord *coordinator.Coordinator
	log   *log.Entry
}

// New constructs a Handler.
func New(coord *coordinator.Coordinator, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "ws")
	}
	return &Handler{coord: coord, log: logger}
}

// ServeHTTP implements http.Handler by upgrading the connection and running
// the pump loop until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws: upgrade failed")
		return
	}
	defer conn.Close()

	init, err := marshalInit(h.coord)
	if err != nil {
		h.log.WithError(err).Error("ws: failed to marshal init frame")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, init); err != nil {
		return
	}

	id, deltas := h.coord.Subscribe()
	defer h.coord.Unsubscribe(id)

	// Drain and discard any inbound frames so the connection stays alive
	// (this façade is a one-way push; the HTTP/api endpoint is where
	// commands are accepted).
	go h.drainInbound(conn)

	for payload := range deltas {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (h *Handler) drainInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func marshalInit(coord *coordinator.Coordinator) ([]byte, error) {
	return json.Marshal(coord.Snapshot())
}
