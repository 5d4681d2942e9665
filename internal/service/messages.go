package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/emberchat/ember-server/internal/chain"
	"github.com/emberchat/ember-server/internal/clock"
	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/emberchat/ember-server/internal/repository"
	"github.com/emberchat/ember-server/internal/scheduler"
	"github.com/emberchat/ember-server/internal/timelock"
)

// keyLossPrefix namespaces key-loss records in the metadata store, where
// trust collaborators pick them up.
const keyLossPrefix = "trust_star:key_lost:"

// SendInput carries one outgoing message. The id is client-generated so
// retried sends stay idempotent.
type SendInput struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	BodyEnc        model.CipherBlob
	UnlockHeight   *int64
	BurnAt         *time.Time
}

// MessageView is one message read with the lock verdict applied: the
// ciphertext is stripped while the time-lock holds.
type MessageView struct {
	Message *model.Message
	Locked  bool
}

// MessageService drives the message lifecycle: store, gate on the
// time-lock, acknowledge, and manage burn deadlines.
type MessageService interface {
	// Send validates and persists a message, arming its burn timer when
	// a deadline is set.
	Send(ctx context.Context, in SendInput) (*model.Message, error)
	// GetMessage returns the message with body stripped while locked.
	GetMessage(ctx context.Context, id uuid.UUID) (*MessageView, error)
	// Acknowledge marks first decryption. ErrLocked while the time-lock
	// holds, ErrConflict when already acknowledged.
	Acknowledge(ctx context.Context, id uuid.UUID) error
	// ScheduleBurn sets or replaces the burn deadline, durably first.
	ScheduleBurn(ctx context.Context, id uuid.UUID, at time.Time) error
	// CancelBurn clears the burn deadline and disarms the timer.
	CancelBurn(ctx context.Context, id uuid.UUID) error
	// RecordKeyLoss writes an opaque key-loss record for collaborators.
	RecordKeyLoss(ctx context.Context, userID uuid.UUID, reason string) error
	// SchedulerStats snapshots the pending-burn index.
	SchedulerStats() scheduler.Stats
}

// burnScheduler is the slice of the scheduler the service drives.
type burnScheduler interface {
	Schedule(messageID, conversationID uuid.UUID, at time.Time)
	Cancel(messageID uuid.UUID)
	Stats() scheduler.Stats
}

type MessageServiceImpl struct {
	repo    repository.MessageRepository
	meta    repository.MetadataRepository
	heights chain.Source
	sched   burnScheduler
	clk     clock.Clock
}

// NewMessageService constructs MessageService with required dependencies.
func NewMessageService(repo repository.MessageRepository, meta repository.MetadataRepository, heights chain.Source, sched burnScheduler, clk clock.Clock) *MessageServiceImpl {
	return &MessageServiceImpl{repo: repo, meta: meta, heights: heights, sched: sched, clk: clk}
}

func (s *MessageServiceImpl) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	if in.ID == uuid.Nil || in.ConversationID == uuid.Nil || in.SenderID == uuid.Nil {
		return nil, errors.New("validation: empty message/conversation/sender id")
	}
	if len(in.BodyEnc) == 0 {
		return nil, errors.New("validation: empty ciphertext")
	}

	if in.UnlockHeight != nil {
		height, err := s.heights.Height(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chain height: %w", err)
		}
		if err := timelock.ValidateCondition(in.UnlockHeight, height); err != nil {
			return nil, err
		}
	}

	msg := &model.Message{
		ID:              in.ID,
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		BodyEnc:         in.BodyEnc,
		CreatedAt:       s.clk.Now(),
		UnlockHeight:    in.UnlockHeight,
		ScheduledBurnAt: in.BurnAt,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	if in.BurnAt != nil {
		s.sched.Schedule(msg.ID, msg.ConversationID, *in.BurnAt)
	}
	return msg, nil
}

func (s *MessageServiceImpl) GetMessage(ctx context.Context, id uuid.UUID) (*MessageView, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty message id")
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	locked, err := s.locked(ctx, m)
	if err != nil {
		return nil, err
	}
	if locked {
		// Metadata is always readable; the ciphertext is not.
		m.BodyEnc = nil
	}
	return &MessageView{Message: m, Locked: locked}, nil
}

func (s *MessageServiceImpl) Acknowledge(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("validation: empty message id")
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	locked, err := s.locked(ctx, m)
	if err != nil {
		return err
	}
	if locked {
		// A message nobody can decrypt cannot have been decrypted.
		return fmt.Errorf("acknowledge time-locked message: %w", errs.ErrLocked)
	}
	return s.repo.Acknowledge(ctx, id, s.clk.Now())
}

func (s *MessageServiceImpl) ScheduleBurn(ctx context.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return errors.New("validation: empty message id")
	}
	if at.IsZero() {
		return errors.New("validation: zero burn time")
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Burned() {
		return fmt.Errorf("message already burned: %w", errs.ErrConflict)
	}
	// Durable column first, then the in-memory timer: a crash between
	// the two is repaired by the next LoadPending.
	if err := s.repo.SetScheduledBurn(ctx, id, &at); err != nil {
		return err
	}
	s.sched.Schedule(id, m.ConversationID, at)
	return nil
}

func (s *MessageServiceImpl) CancelBurn(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errors.New("validation: empty message id")
	}
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Burned() {
		return fmt.Errorf("burn already executed: %w", errs.ErrConflict)
	}
	// Cancelling an unscheduled burn is a no-op, not an error.
	if err := s.repo.SetScheduledBurn(ctx, id, nil); err != nil {
		return err
	}
	s.sched.Cancel(id)
	return nil
}

type keyLossRecord struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

func (s *MessageServiceImpl) RecordKeyLoss(ctx context.Context, userID uuid.UUID, reason string) error {
	if userID == uuid.Nil {
		return errors.New("validation: empty user id")
	}
	payload, err := json.Marshal(keyLossRecord{At: s.clk.Now().UTC(), Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal key-loss record: %w", err)
	}
	return s.meta.Set(ctx, keyLossPrefix+userID.String(), payload)
}

func (s *MessageServiceImpl) SchedulerStats() scheduler.Stats {
	return s.sched.Stats()
}

// locked evaluates the time-lock for a message; burned messages are
// never reported locked, their body is already gone.
func (s *MessageServiceImpl) locked(ctx context.Context, m *model.Message) (bool, error) {
	if m.UnlockHeight == nil || m.Burned() {
		return false, nil
	}
	height, err := s.heights.Height(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve chain height: %w", err)
	}
	return timelock.Evaluate(m.UnlockHeight, height) == timelock.Locked, nil
}
