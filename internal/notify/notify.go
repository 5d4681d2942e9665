// Package notify fans engine events out to connected clients. The engine
// treats every call as fire-and-forget; delivery guarantees belong to the
// sink implementations.
package notify

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// BurnEvent is the "message burned" notification payload.
type BurnEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	BurnedAt       time.Time `json:"burned_at"`
}

// Sink receives engine events.
type Sink interface {
	MessageBurned(ctx context.Context, ev BurnEvent) error
}
