// Package ws provides the WebSocket endpoint streaming agent status to dashboards.
package ws

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/api"
)

// Events exchanged over the socket.
const (
	EventRequestStatus = "requestStatus"
	EventStatusUpdate  = "statusUpdate"
	EventError         = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 4096
)

// Message is one frame in either direction.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Status is the payload of a statusUpdate event.
type Status struct {
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
	Memory    Memory    `json:"memory"`
	Online    bool      `json:"online"`
}

// Memory describes the agent's own memory use in bytes.
type Memory struct {
	HeapAlloc uint64 `json:"heap_alloc"`
	HeapSys   uint64 `json:"heap_sys"`
	Sys       uint64 `json:"sys"`
}

// Handler upgrades requests and answers status requests.
type Handler struct {
	Path     string
	started  time.Time
	now      func() time.Time
	upgrader websocket.Upgrader
}

// New creates a WebSocket handler reporting uptime since started.
func New(started time.Time) *Handler {
	return &Handler{
		Path:    "GET /api/ws",
		started: started,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Every request already carries the API token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the WebSocket endpoint.
func (h *Handler) Routes() []api.Route {
	return []api.Route{{Pattern: h.Path, Handler: h.Handle}}
}

// Handle serves one WebSocket client until it disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("Failed to upgrade the websocket")

		return
	}
	defer conn.Close()

	log := logrus.WithField("remote", r.RemoteAddr)
	log.Debug("Websocket client connected")

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(h.now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(h.now().Add(pongWait))
	})

	replies := make(chan Message, 1)
	done := make(chan struct{})

	go h.writeLoop(conn, replies, done)
	defer close(replies)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Websocket client disconnected")
			}

			return
		}

		reply := h.reply(msg)

		select {
		case replies <- reply:
		case <-done:
			return
		}
	}
}

// reply answers one client message.
func (h *Handler) reply(msg Message) Message {
	if msg.Event != EventRequestStatus {
		return Message{Event: EventError, Data: "unknown event: " + msg.Event}
	}

	return Message{Event: EventStatusUpdate, Data: h.Status()}
}

// writeLoop owns all writes to conn: replies and keepalive pings.
func (h *Handler) writeLoop(conn *websocket.Conn, replies <-chan Message, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), h.now().Add(writeWait))

				return
			}

			_ = conn.SetWriteDeadline(h.now().Add(writeWait))

			if err := conn.WriteJSON(msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					logrus.WithError(err).Debug("Failed to write websocket message")
				}

				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, h.now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Status returns the agent's current status.
func (h *Handler) Status() Status {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	now := h.now()

	return Status{
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.started).Seconds(),
		Memory: Memory{
			HeapAlloc: stats.HeapAlloc,
			HeapSys:   stats.HeapSys,
			Sys:       stats.Sys,
		},
		Online: true,
	}
}
