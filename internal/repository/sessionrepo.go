package repository

import (
	"context"
	"time"

	"github.com/emberchat/ember-server/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SessionRepository stores handshake session metadata. Rows never hold
// key material; transitions are guarded in SQL so concurrent writers
// cannot double-apply them.
type SessionRepository interface {
	// Create inserts a PENDING session. ErrConflict when a live session
	// already exists for the ordered participant pair.
	Create(ctx context.Context, s *model.HandshakeSession) error

	// Get returns a session by its correlation id.
	Get(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error)

	// Complete moves PENDING to ACTIVE. ErrConflict when the session is
	// in any other state, ErrNotFound when it does not exist.
	Complete(ctx context.Context, sessionID uuid.UUID, at time.Time) error

	// Fail moves PENDING to FAILED and records the diagnostic reason.
	Fail(ctx context.Context, sessionID uuid.UUID, reason string, at time.Time) error

	// RecordRetry increments retry_count and stamps last_retry_at on a
	// PENDING session, returning the new count.
	RecordRetry(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error)

	// Expire moves a PENDING session, or an ACTIVE one whose expires_at
	// has passed, to EXPIRED.
	Expire(ctx context.Context, sessionID uuid.UUID, at time.Time) error

	// ExpireDue expires every session the sweep is responsible for:
	// ACTIVE past its expires_at, and PENDING older than pendingTTL.
	// Returns the number of rows transitioned.
	ExpireDue(ctx context.Context, now time.Time, pendingTTL time.Duration) (int64, error)
}
