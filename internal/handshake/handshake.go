// Package handshake tracks X3DH session establishment between user
// pairs: one live session per ordered pair, guarded state transitions,
// retry bookkeeping and deadline-driven expiry. The server only ever
// sees correlation metadata; key material stays on the clients.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emberchat/ember-server/internal/clock"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/emberchat/ember-server/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// TrackerService manages handshake session lifecycles.
type TrackerService interface {
	// Initiate opens a PENDING session between the ordered pair. A zero
	// ttl leaves the session without an explicit deadline; the sweeper's
	// pending TTL still bounds it.
	Initiate(ctx context.Context, initiatorID, responderID uuid.UUID, ttl time.Duration) (*model.HandshakeSession, error)
	// Get returns a session by its correlation id.
	Get(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error)
	// Complete moves PENDING to ACTIVE.
	Complete(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error)
	// Fail moves PENDING to FAILED with a diagnostic reason.
	Fail(ctx context.Context, sessionID uuid.UUID, reason string) (*model.HandshakeSession, error)
	// Retry records another key-agreement attempt on a PENDING session.
	Retry(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error)
	// Expire moves a PENDING session, or an ACTIVE one whose deadline
	// has passed, to EXPIRED.
	Expire(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error)
}

type TrackerServiceImpl struct {
	repo repository.SessionRepository
	clk  clock.Clock
}

// NewTrackerService constructs the tracker over the session gateway.
func NewTrackerService(repo repository.SessionRepository, clk clock.Clock) *TrackerServiceImpl {
	return &TrackerServiceImpl{repo: repo, clk: clk}
}

func (s *TrackerServiceImpl) Initiate(ctx context.Context, initiatorID, responderID uuid.UUID, ttl time.Duration) (*model.HandshakeSession, error) {
	if initiatorID == uuid.Nil || responderID == uuid.Nil {
		return nil, errors.New("validation: empty initiator/responder id")
	}
	if initiatorID == responderID {
		return nil, errors.New("validation: handshake with self")
	}
	if ttl < 0 {
		return nil, errors.New("validation: negative ttl")
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.clk.Now()
	sess := &model.HandshakeSession{
		SessionID:   id,
		InitiatorID: initiatorID,
		ResponderID: responderID,
		State:       model.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ttl > 0 {
		at := now.Add(ttl)
		sess.ExpiresAt = &at
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *TrackerServiceImpl) Get(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("validation: empty session id")
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *TrackerServiceImpl) Complete(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("validation: empty session id")
	}
	if err := s.repo.Complete(ctx, sessionID, s.clk.Now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *TrackerServiceImpl) Fail(ctx context.Context, sessionID uuid.UUID, reason string) (*model.HandshakeSession, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("validation: empty session id")
	}
	if reason == "" {
		return nil, errors.New("validation: empty failure reason")
	}
	if err := s.repo.Fail(ctx, sessionID, reason, s.clk.Now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *TrackerServiceImpl) Retry(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("validation: empty session id")
	}
	if _, err := s.repo.RecordRetry(ctx, sessionID, s.clk.Now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *TrackerServiceImpl) Expire(ctx context.Context, sessionID uuid.UUID) (*model.HandshakeSession, error) {
	if sessionID == uuid.Nil {
		return nil, errors.New("validation: empty session id")
	}
	if err := s.repo.Expire(ctx, sessionID, s.clk.Now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, sessionID)
}
