package httpserver

import (
	"net/http"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// handleSubscribe upgrades the connection and registers it for burn
// events in one conversation. Knowing the conversation id is the
// capability; the server cannot tell members apart anyway.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conv, err := uuid.FromString(r.URL.Query().Get("conversation_id"))
	if err != nil {
		http.Error(w, "bad conversation_id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Register(conv, conn)
}
