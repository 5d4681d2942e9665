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

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a new message row.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, sender_id, body_enc, created_at, unlock_height, scheduled_burn_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q,
		m.ID, m.ConversationID, m.SenderID, []byte(m.BodyEnc), m.CreatedAt, m.UnlockHeight, m.ScheduledBurnAt)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// Get returns a single message by id. A burned message comes back as its
// tombstone: row present, body empty.
func (r *MessageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	const q = `
SELECT id, conversation_id, sender_id, body_enc, created_at, unlock_height, scheduled_burn_at, acknowledged_at, burned_at
FROM messages WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.BodyEnc, &m.CreatedAt,
		&m.UnlockHeight, &m.ScheduledBurnAt, &m.AcknowledgedAt, &m.BurnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetPendingBurns returns every not-yet-burned message with a scheduled
// burn instant, soonest first.
func (r *MessageRepo) GetPendingBurns(ctx context.Context) ([]model.PendingBurn, error) {
	const q = `
SELECT id, conversation_id, scheduled_burn_at
FROM messages
WHERE scheduled_burn_at IS NOT NULL AND burned_at IS NULL
ORDER BY scheduled_burn_at ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PendingBurn
	for rows.Next() {
		var pb model.PendingBurn
		if err = rows.Scan(&pb.MessageID, &pb.ConversationID, &pb.ScheduledBurnAt); err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// Burn nulls the body, stamps burned_at and clears the schedule in one
// statement, so storage never holds a half-burned row. Missing and
// already-burned messages both report ErrNotFound.
func (r *MessageRepo) Burn(ctx context.Context, id uuid.UUID, burnedAt time.Time) error {
	const q = `
UPDATE messages
SET body_enc = NULL, burned_at = $2, scheduled_burn_at = NULL
WHERE id = $1 AND burned_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, burnedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Acknowledge stamps acknowledged_at at most once.
func (r *MessageRepo) Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `
UPDATE messages
SET acknowledged_at = $2
WHERE id = $1 AND acknowledged_at IS NULL AND burned_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// The guard failed: tell a gone message apart from a repeat ack.
	const probe = `SELECT acknowledged_at, burned_at FROM messages WHERE id=$1`
	var acked, burned *time.Time
	if err := r.db.Pool.QueryRow(ctx, probe, id).Scan(&acked, &burned); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	if burned != nil {
		return errs.ErrNotFound
	}
	return errs.ErrConflict
}

// SetScheduledBurn replaces the burn deadline; nil clears it. Burned
// messages are not reschedulable and report ErrNotFound.
func (r *MessageRepo) SetScheduledBurn(ctx context.Context, id uuid.UUID, at *time.Time) error {
	const q = `
UPDATE messages
SET scheduled_burn_at = $2
WHERE id = $1 AND burned_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
