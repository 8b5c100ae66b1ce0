// Package websocket pushes live heart-rate, track and feedback updates to
// connected clients.
package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/services"
	"github.com/ewilliams-labs/cadence/internal/logging"
	"github.com/ewilliams-labs/cadence/internal/metrics"
)

// compile-time interface assertion
var _ ports.Broadcaster = (*Hub)(nil)

// Frame types.
const (
	MessageTypeHeartRate = "hr"
	MessageTypeTrack     = "track"
	MessageTypeFeedback  = "feedback"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Message is the JSON frame written to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`

	// userID limits delivery to one user's clients; empty means everyone.
	userID string
}

// HeartRateData is the payload of an hr frame.
type HeartRateData struct {
	HeartRate int     `json:"hr"`
	Timestamp float64 `json:"timestamp"`
	UserID    string  `json:"user_id,omitempty"`
}

// FeedbackData is the payload of a feedback frame.
type FeedbackData struct {
	EventType string `json:"event_type"`
	TrackID   string `json:"track_id,omitempty"`
	UserID    string `json:"user_id"`
}

// Presence tracks which users have live clients and supplies the state
// replayed on connect.
type Presence interface {
	Connect(userID string) string
	Disconnect(userID string)
	Snapshot(ctx context.Context, userID string) services.Snapshot
}

// Hub fans frames out to clients. Broadcast calls never block: when the
// queue is full the frame is dropped, and a client that cannot keep up is
// disconnected.
type Hub struct {
	presence  Presence
	upgrader  websocket.Upgrader
	broadcast chan Message
	log       zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub. allowedOrigins empty accepts any origin. Attach a
// Presence before serving requests.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		broadcast: make(chan Message, 256),
		clients:   make(map[*Client]struct{}),
		log:       logging.Component("websocket-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Attach sets the presence tracker. The hub and the orchestrator reference
// each other, so this happens after both are built.
func (h *Hub) Attach(p Presence) {
	h.presence = p
}

// String names the service for the supervisor.
func (h *Hub) String() string { return "websocket-hub" }

// Serve delivers queued frames until ctx is done, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			h.log.Info().Int("clients_closed", n).Msg("websocket hub stopped")
			return ctx.Err()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// ServeHTTP upgrades the request and attaches the client to the user named by
// the user_id query parameter, or the default user.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		http.Error(w, "websocket hub not ready", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	userID := h.presence.Connect(r.URL.Query().Get("user_id"))
	c := newClient(h, conn, userID)

	// replay goes out before any live frame
	snap := h.presence.Snapshot(r.Context(), userID)
	if snap.HeartRate > 0 {
		c.send <- Message{Type: MessageTypeHeartRate, Data: HeartRateData{
			HeartRate: snap.HeartRate,
			Timestamp: domain.EpochSeconds(snap.HeartRateAt),
		}}
	}
	if snap.Track != nil {
		c.send <- Message{Type: MessageTypeTrack, Data: snap.Track}
	}

	if !h.register(c) {
		h.presence.Disconnect(userID)
		close(c.send)
		_ = conn.Close()
		return
	}
	c.start()
}

// BroadcastHeartRate sends an hr frame to the user's clients, or to every
// client for a shared sensor sample.
func (h *Hub) BroadcastHeartRate(userID string, hr int, at time.Time) {
	h.enqueue(Message{
		Type:   MessageTypeHeartRate,
		Data:   HeartRateData{HeartRate: hr, Timestamp: domain.EpochSeconds(at), UserID: userID},
		userID: userID,
	})
}

// BroadcastTrack sends a track frame to the switching user's clients.
func (h *Hub) BroadcastTrack(ev domain.SwitchEvent) {
	h.enqueue(Message{Type: MessageTypeTrack, Data: ev, userID: ev.UserID})
}

// BroadcastFeedback sends a feedback frame to the user's clients.
func (h *Hub) BroadcastFeedback(ev domain.FeedbackEvent) {
	h.enqueue(Message{
		Type:   MessageTypeFeedback,
		Data:   FeedbackData{EventType: ev.EventType, TrackID: ev.TrackID, UserID: ev.UserID},
		userID: ev.UserID,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
	h.log.Info().Str("user_id", c.userID).Int("total_clients", len(h.clients)).Msg("websocket client connected")
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.presence.Disconnect(c.userID)
		metrics.WebSocketClients.Set(float64(total))
		h.log.Info().Str("user_id", c.userID).Int("total_clients", total).Msg("websocket client disconnected")
	}
}

func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	clients := h.sortedClients()
	var slow []*Client
	for _, c := range clients {
		if msg.userID != "" && c.userID != msg.userID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, c := range slow {
		h.presence.Disconnect(c.userID)
		h.log.Warn().Str("user_id", c.userID).Msg("dropping slow websocket client")
	}
	if len(slow) > 0 {
		metrics.WebSocketClients.Set(float64(total))
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	clients := h.sortedClients()
	for _, c := range clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.closed = true
	h.mu.Unlock()

	for _, c := range clients {
		h.presence.Disconnect(c.userID)
	}
	metrics.WebSocketClients.Set(0)
	return len(clients)
}

// sortedClients must be called with mu held.
func (h *Hub) sortedClients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
