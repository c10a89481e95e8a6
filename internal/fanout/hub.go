// Package fanout rebroadcasts appointment state changes to connected
// websocket subscribers and pushes a full snapshot to every new connection
// so a late subscriber converges without replaying missed events.
package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
)

const (
	// MessageSnapshot carries the full board state, sent once per connect.
	MessageSnapshot = "SNAPSHOT"
	// MessageUpdated carries one appointment transition.
	MessageUpdated = "UPDATED"
)

// SnapshotMessage is the first frame every subscriber receives.
type SnapshotMessage struct {
	Type string                     `json:"type"`
	Data []appointment.EventPayload `json:"data"`
}

// DeltaMessage is broadcast for each created/updated event.
type DeltaMessage struct {
	Type string                   `json:"type"`
	Data appointment.EventPayload `json:"data"`
}

// Client is a single websocket subscriber.
type Client struct {
	ID   string
	Send chan []byte
	conn *gorillawebsocket.Conn
}

// Hub tracks connected subscribers. Broadcasts are fire-and-forget: a client
// whose buffer is full misses the frame rather than blocking the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
}

// BroadcastAll sends a delta frame to every connected subscriber.
func (h *Hub) BroadcastAll(msg DeltaMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal delta frame")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections and serves the per-connect snapshot.
type Handler struct {
	hub    *Hub
	repo   appointment.Repository
	logger zerolog.Logger
}

func NewHandler(hub *Hub, repo appointment.Repository, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, repo: repo, logger: logger}
}

// HandleConnect upgrades the connection, pushes the snapshot, then starts
// the read/write pumps. A snapshot failure closes only this subscriber.
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, 256),
		conn: ws,
	}

	if err := h.sendSnapshot(r.Context(), ws); err != nil {
		h.logger.Error().Err(err).Str("client_id", client.ID).Msg("snapshot delivery failed")
		_ = ws.Close()
		return
	}

	h.hub.Register(client)
	h.logger.Info().Str("client_id", client.ID).Int("clients", h.hub.ClientCount()).Msg("subscriber connected")

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Handler) sendSnapshot(ctx context.Context, ws *gorillawebsocket.Conn) error {
	all, err := h.repo.FindAll(ctx)
	if err != nil {
		return err
	}

	payloads := make([]appointment.EventPayload, 0, len(all))
	for i := range all {
		payloads = append(payloads, appointment.ToEventPayload(&all[i]))
	}

	data, err := json.Marshal(SnapshotMessage{Type: MessageSnapshot, Data: payloads})
	if err != nil {
		return err
	}

	return ws.WriteMessage(gorillawebsocket.TextMessage, data)
}

// readPump drains inbound frames until the peer goes away. Subscribers are
// receive-only; anything they send is discarded.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		_ = client.conn.Close()
		h.logger.Info().Str("client_id", client.ID).Msg("subscriber disconnected")
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
