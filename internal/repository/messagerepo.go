package repository

import (
	"context"
	"time"

	"github.com/emberchat/ember-server/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository provides lifecycle access to encrypted messages.
type MessageRepository interface {
	// Create inserts a new message row.
	Create(ctx context.Context, m *model.Message) error

	// Get returns a single message by id. Burned messages keep their
	// tombstone row; the body comes back empty.
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)

	// GetPendingBurns returns every not-yet-burned message carrying a
	// scheduled burn instant.
	GetPendingBurns(ctx context.Context) ([]model.PendingBurn, error)

	// Burn deletes the body and stamps burned_at in one statement.
	// ErrNotFound when the message does not exist or is already burned.
	Burn(ctx context.Context, id uuid.UUID, burnedAt time.Time) error

	// Acknowledge stamps acknowledged_at, at most once.
	// ErrConflict when already acknowledged.
	Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetScheduledBurn replaces the burn deadline; nil clears it.
	// Burned messages are not reschedulable.
	SetScheduledBurn(ctx context.Context, id uuid.UUID, at *time.Time) error
}
