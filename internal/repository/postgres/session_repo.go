package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// SessionRepo implements SessionRepository using PostgreSQL. Transitions
// are guarded UPDATEs on the current state, so a lost race surfaces as
// zero affected rows instead of a double-applied write.
type SessionRepo struct{ db *DB }

// NewSessionRepo constructs a handshake session repository.
func NewSessionRepo(db *DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a PENDING session. The partial unique index on the
// ordered participant pair rejects a second live handshake between the
// same two users, whatever its session id.
func (r *SessionRepo) Create(ctx context.Context, s *model.HandshakeSession) error {
	const q = `
INSERT INTO handshake_sessions (session_id, initiator_id, responder_id, state, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q,
		s.SessionID, s.InitiatorID, s.ResponderID, s.State, s.CreatedAt, s.UpdatedAt, s.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// Get returns a session by its correlation id.
func (r *SessionRepo) Get(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error) {
	const q = `
SELECT session_id, initiator_id, responder_id, state, created_at, updated_at, expires_at, retry_count, last_retry_at, failure_reason
FROM handshake_sessions WHERE session_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, sessionID)
	var s model.HandshakeSession
	err := row.Scan(&s.SessionID, &s.InitiatorID, &s.ResponderID, &s.State, &s.CreatedAt,
		&s.UpdatedAt, &s.ExpiresAt, &s.RetryCount, &s.LastRetryAt, &s.FailureReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Complete moves PENDING to ACTIVE exactly once.
func (r *SessionRepo) Complete(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	const q = `
UPDATE handshake_sessions
SET state = 'ACTIVE', updated_at = $2
WHERE session_id = $1 AND state = 'PENDING'`
	return r.transition(ctx, q, sessionID, at)
}

// Fail moves PENDING to FAILED and records the diagnostic reason.
func (r *SessionRepo) Fail(ctx context.Context, sessionID uuid.UUID, reason string, at time.Time) error {
	const q = `
UPDATE handshake_sessions
SET state = 'FAILED', failure_reason = $2, updated_at = $3
WHERE session_id = $1 AND state = 'PENDING'`
	tag, err := r.db.Pool.Exec(ctx, q, sessionID, reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.classifyMiss(ctx, sessionID)
}

// RecordRetry increments retry_count and stamps last_retry_at on a
// PENDING session, returning the new count. Retries never change state.
func (r *SessionRepo) RecordRetry(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	const q = `
UPDATE handshake_sessions
SET retry_count = retry_count + 1, last_retry_at = $2, updated_at = $2
WHERE session_id = $1 AND state = 'PENDING'
RETURNING retry_count`
	var count int
	err := r.db.Pool.QueryRow(ctx, q, sessionID, at).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.classifyMiss(ctx, sessionID)
		}
		return 0, err
	}
	return count, nil
}

// Expire moves a PENDING session, or an ACTIVE one whose deadline has
// passed, to EXPIRED.
func (r *SessionRepo) Expire(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	const q = `
UPDATE handshake_sessions
SET state = 'EXPIRED', updated_at = $2
WHERE session_id = $1
  AND (state = 'PENDING' OR (state = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $2))`
	return r.transition(ctx, q, sessionID, at)
}

// ExpireDue sweeps every session past its deadline: ACTIVE or PENDING
// with expires_at elapsed, plus PENDING rows older than pendingTTL that
// never carried a deadline. Returns the number of rows transitioned.
func (r *SessionRepo) ExpireDue(ctx context.Context, now time.Time, pendingTTL time.Duration) (int64, error) {
	const q = `
UPDATE handshake_sessions
SET state = 'EXPIRED', updated_at = $1
WHERE (state IN ('PENDING','ACTIVE') AND expires_at IS NOT NULL AND expires_at <= $1)
   OR (state = 'PENDING' AND expires_at IS NULL AND created_at <= $2)`
	tag, err := r.db.Pool.Exec(ctx, q, now, now.Add(-pendingTTL))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) transition(ctx context.Context, q string, sessionID uuid.UUID, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, q, sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.classifyMiss(ctx, sessionID)
}

// classifyMiss tells a missing session apart from one in a state the
// guarded UPDATE refused to touch.
func (r *SessionRepo) classifyMiss(ctx context.Context, sessionID uuid.UUID) error {
	const probe = `SELECT state FROM handshake_sessions WHERE session_id=$1`
	var state model.SessionState
	if err := r.db.Pool.QueryRow(ctx, probe, sessionID).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return errs.ErrConflict
}
