package notify

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub delivers burn events to websocket subscribers keyed by
// conversation. A subscriber that cannot be written to is dropped; it is
// the client's job to reconnect.
type Hub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]map[*websocket.Conn]*subscriber
}

// subscriber serializes writes to one connection; gorilla conns do not
// allow concurrent writers.
type subscriber struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (s *subscriber) writeJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

// NewHub constructs an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[uuid.UUID]map[*websocket.Conn]*subscriber),
	}
}

// Register subscribes conn to a conversation's events and watches the
// connection until the peer goes away. Inbound frames are discarded; the
// stream is notify-only.
func (h *Hub) Register(conversationID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*websocket.Conn]*subscriber)
		h.subs[conversationID] = set
	}
	set[conn] = &subscriber{conn: conn}
	h.mu.Unlock()

	go h.reap(conversationID, conn)
}

// Unregister drops conn from a conversation and closes it.
func (h *Hub) Unregister(conversationID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.subs[conversationID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.subs, conversationID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Subscribers reports how many connections listen on a conversation.
func (h *Hub) Subscribers(conversationID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

// MessageBurned writes the event to every subscriber of its
// conversation. Connections that fail the write are dropped.
func (h *Hub) MessageBurned(_ context.Context, ev BurnEvent) error {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[ev.ConversationID]))
	for _, s := range h.subs[ev.ConversationID] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if err := s.writeJSON(&ev); err != nil {
			h.log.Debug("drop unwritable subscriber",
				zap.String("conversation_id", ev.ConversationID.String()),
				zap.Error(err))
			h.Unregister(ev.ConversationID, s.conn)
		}
	}
	return nil
}

// reap blocks on the connection until it dies, then unregisters it.
func (h *Hub) reap(conversationID uuid.UUID, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Unregister(conversationID, conn)
			return
		}
	}
}
