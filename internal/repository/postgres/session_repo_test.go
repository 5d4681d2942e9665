package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

const sessionProbeRe = `SELECT state FROM handshake_sessions WHERE session_id=\$1`

func TestSessionRepo_Create_OK_and_LivePairConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &model.HandshakeSession{
		SessionID:   uuid.Must(uuid.NewV4()),
		InitiatorID: uuid.Must(uuid.NewV4()),
		ResponderID: uuid.Must(uuid.NewV4()),
		State:       model.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	const insertRe = `INSERT INTO handshake_sessions \(session_id, initiator_id, responder_id, state, created_at, updated_at, expires_at\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`

	// OK
	mock.ExpectExec(insertRe).
		WithArgs(s.SessionID, s.InitiatorID, s.ResponderID, s.State, s.CreatedAt, s.UpdatedAt, s.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, s))

	// A live session already exists for the pair (partial unique index).
	mock.ExpectExec(insertRe).
		WithArgs(s.SessionID, s.InitiatorID, s.ResponderID, s.State, s.CreatedAt, s.UpdatedAt, s.ExpiresAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, s), errs.ErrConflict)
}

func TestSessionRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	initiator := uuid.Must(uuid.NewV4())
	responder := uuid.Must(uuid.NewV4())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const selectRe = `SELECT session_id, initiator_id, responder_id, state, created_at, updated_at, expires_at, retry_count, last_retry_at, failure_reason FROM handshake_sessions WHERE session_id=\$1`

	cols := []string{"session_id", "initiator_id", "responder_id", "state", "created_at", "updated_at", "expires_at", "retry_count", "last_retry_at", "failure_reason"}

	mock.ExpectQuery(selectRe).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id, initiator, responder, model.SessionState("PENDING"), now, now, nil, 0, nil, nil))
	s, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, s.SessionID)
	require.Equal(t, model.SessionPending, s.State)
	require.Nil(t, s.ExpiresAt)

	mock.ExpectQuery(selectRe).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSessionRepo_Complete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const completeRe = `UPDATE handshake_sessions SET state = 'ACTIVE', updated_at = \$2 WHERE session_id = \$1 AND state = 'PENDING'`

	// OK
	mock.ExpectExec(completeRe).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Complete(ctx, id, at))

	// Not PENDING anymore
	mock.ExpectExec(completeRe).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(sessionProbeRe).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("FAILED"))
	require.ErrorIs(t, r.Complete(ctx, id, at), errs.ErrConflict)

	// Never existed
	mock.ExpectExec(completeRe).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(sessionProbeRe).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, r.Complete(ctx, id, at), errs.ErrNotFound)
}

func TestSessionRepo_Fail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const failRe = `UPDATE handshake_sessions SET state = 'FAILED', failure_reason = \$2, updated_at = \$3 WHERE session_id = \$1 AND state = 'PENDING'`

	mock.ExpectExec(failRe).
		WithArgs(id, "prekey bundle rejected", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Fail(ctx, id, "prekey bundle rejected", at))

	mock.ExpectExec(failRe).
		WithArgs(id, "prekey bundle rejected", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(sessionProbeRe).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("ACTIVE"))
	require.ErrorIs(t, r.Fail(ctx, id, "prekey bundle rejected", at), errs.ErrConflict)
}

func TestSessionRepo_RecordRetry(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const retryRe = `UPDATE handshake_sessions SET retry_count = retry_count \+ 1, last_retry_at = \$2, updated_at = \$2 WHERE session_id = \$1 AND state = 'PENDING' RETURNING retry_count`

	mock.ExpectQuery(retryRe).
		WithArgs(id, at).
		WillReturnRows(pgxmock.NewRows([]string{"retry_count"}).AddRow(3))
	count, err := r.RecordRetry(ctx, id, at)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// Retrying a settled handshake is a conflict, not a counter bump.
	mock.ExpectQuery(retryRe).
		WithArgs(id, at).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(sessionProbeRe).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("EXPIRED"))
	_, err = r.RecordRetry(ctx, id, at)
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestSessionRepo_Expire(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const expireRe = `UPDATE handshake_sessions SET state = 'EXPIRED', updated_at = \$2 WHERE session_id = \$1 AND \(state = 'PENDING' OR \(state = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= \$2\)\)`

	mock.ExpectExec(expireRe).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Expire(ctx, id, at))

	// ACTIVE without a deadline never expires.
	mock.ExpectExec(expireRe).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(sessionProbeRe).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow("ACTIVE"))
	require.ErrorIs(t, r.Expire(ctx, id, at), errs.ErrConflict)
}

func TestSessionRepo_ExpireDue(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	mock.ExpectExec(`UPDATE handshake_sessions SET state = 'EXPIRED', updated_at = \$1 WHERE \(state IN \('PENDING','ACTIVE'\) AND expires_at IS NOT NULL AND expires_at <= \$1\) OR \(state = 'PENDING' AND expires_at IS NULL AND created_at <= \$2\)`).
		WithArgs(now, now.Add(-ttl)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := r.ExpireDue(ctx, now, ttl)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
