// Package ws owns the websocket endpoint: it upgrades connections, registers
// them with the hub, and pumps inbound payloads into the hub's dispatch until
// the socket dies.
package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"

	"driftline/server"
)

type HandlerConfig struct {
	Logger *log.Logger
}

type Handler struct {
	hub      *server.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and runs the session until the socket closes.
// The hub sends the welcome message during Register; everything after that is
// a read loop feeding the hub.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	id, err := h.hub.Register(conn)
	if err != nil {
		h.logger.Printf("failed to welcome new connection: %v", err)
		conn.Close()
		return
	}

	ctx := r.Context()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(id)
			return
		}
		h.hub.HandleMessage(ctx, id, payload)
	}
}
