// Package scheduler owns the pending-burn index: one armed timer per
// scheduled self-destruct, an exactly-once burn transition, and rebuild
// from storage on startup. The index is purely in memory; the
// scheduled_burn_at column is the source of truth that survives crashes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emberchat/ember-server/internal/clock"
	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/notify"
	"github.com/emberchat/ember-server/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Options tune the burn retry policy; zero values fall back to defaults.
type Options struct {
	// MaxAttempts is the number of durable-write attempts per fire.
	MaxAttempts int
	// RetryBackoff is the delay before the first retry; it doubles per
	// attempt.
	RetryBackoff time.Duration
}

// BurnScheduler guarantees that every message carrying a burn deadline
// is destroyed at (or promptly after) that instant, exactly once, across
// restarts. A single instance owns the index; see Shutdown and
// LoadPending for the restart contract.
type BurnScheduler struct {
	repo repository.MessageRepository
	clk  clock.Clock
	log  *zap.Logger

	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	sink     notify.Sink
	entries  map[uuid.UUID]*entry
	shutdown bool
}

// entry is one pending self-destruct. Identity matters: a fire callback
// only acts if the index still maps its message id to this exact entry,
// so a replace or cancel that got there first wins.
type entry struct {
	conversationID uuid.UUID
	at             time.Time
	timer          *clock.Timer

	// burning is set while the durable write is in flight; from that
	// point a cancel loses the race, since the destruction may already
	// have happened server-side.
	burning bool
}

// New constructs a scheduler. It accepts no traffic until Initialize
// and LoadPending have run.
func New(repo repository.MessageRepository, clk clock.Clock, log *zap.Logger, opts Options) *BurnScheduler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	return &BurnScheduler{
		repo:        repo,
		clk:         clk,
		log:         log,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
		entries:     make(map[uuid.UUID]*entry),
	}
}

// Initialize attaches the notification sink. It must be called before
// any Schedule or LoadPending; using the scheduler earlier is a
// programming error, not a runtime condition.
func (s *BurnScheduler) Initialize(sink notify.Sink) {
	if sink == nil {
		panic("scheduler: Initialize with nil sink")
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// LoadPending rebuilds the index from storage: every not-yet-burned
// message with a deadline gets an armed timer, and overdue ones burn
// during the call. Run it once at startup, after Initialize and before
// accepting traffic, so a restart cannot silently skip overdue burns.
func (s *BurnScheduler) LoadPending(ctx context.Context) error {
	s.mu.Lock()
	initialized := s.sink != nil
	s.mu.Unlock()
	if !initialized {
		panic("scheduler: LoadPending before Initialize")
	}

	pending, err := s.repo.GetPendingBurns(ctx)
	if err != nil {
		return fmt.Errorf("load pending burns: %w", err)
	}
	for _, pb := range pending {
		s.Schedule(pb.MessageID, pb.ConversationID, pb.ScheduledBurnAt)
	}
	s.log.Info("pending burns rearmed", zap.Int("count", len(pending)))
	return nil
}

// Schedule arms a timer to burn messageID at the given instant.
// Idempotent per id: an existing timer is disarmed and replaced, so the
// last schedule wins. A deadline at or before now burns synchronously
// before Schedule returns; there is no coverage gap at the boundary.
func (s *BurnScheduler) Schedule(messageID, conversationID uuid.UUID, at time.Time) {
	s.mu.Lock()
	if s.sink == nil {
		s.mu.Unlock()
		panic("scheduler: Schedule before Initialize")
	}
	if s.shutdown {
		s.mu.Unlock()
		s.log.Warn("schedule after shutdown dropped; storage keeps the deadline",
			zap.String("message_id", messageID.String()))
		return
	}

	if old, ok := s.entries[messageID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &entry{conversationID: conversationID, at: at}
	s.entries[messageID] = e

	delay := at.Sub(s.clk.Now())
	if delay <= 0 {
		s.mu.Unlock()
		s.attempt(messageID, e, 1)
		return
	}
	e.timer = s.clk.AfterFunc(delay, func() { s.attempt(messageID, e, 1) })
	s.mu.Unlock()
}

// Cancel disarms and removes the pending entry for messageID, if any.
// Racing a firing timer, the burn wins once its durable write has
// begun; before that, cancellation wins.
func (s *BurnScheduler) Cancel(messageID uuid.UUID) {
	s.mu.Lock()
	e, ok := s.entries[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.burning {
		s.mu.Unlock()
		s.log.Debug("cancel lost the race to a firing burn",
			zap.String("message_id", messageID.String()))
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, messageID)
	s.mu.Unlock()
}

// PendingBurnStat describes one armed entry.
type PendingBurnStat struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	At             time.Time
	Remaining      time.Duration
}

// Stats is a read-only snapshot for diagnostics; never control flow.
type Stats struct {
	Pending int
	Entries []PendingBurnStat
}

// Stats reports the pending entries, soonest first.
func (s *BurnScheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	st := Stats{Pending: len(s.entries), Entries: make([]PendingBurnStat, 0, len(s.entries))}
	for id, e := range s.entries {
		remaining := e.at.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		st.Entries = append(st.Entries, PendingBurnStat{
			MessageID:      id,
			ConversationID: e.conversationID,
			At:             e.at,
			Remaining:      remaining,
		})
	}
	sort.Slice(st.Entries, func(i, j int) bool {
		if !st.Entries[i].At.Equal(st.Entries[j].At) {
			return st.Entries[i].At.Before(st.Entries[j].At)
		}
		return st.Entries[i].MessageID.String() < st.Entries[j].MessageID.String()
	})
	return st
}

// Shutdown disarms every timer without burning. A live restart must not
// mass-destroy messages; the deadlines stay durable and the next
// LoadPending restores them. Further Schedule calls are dropped with a
// warning.
func (s *BurnScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.log.Info("burn scheduler stopped; pending burns remain durable")
}

// attempt performs one durable-write try for a fired entry, re-arming a
// backoff timer on transient failure. Runs in the timer callback.
func (s *BurnScheduler) attempt(messageID uuid.UUID, e *entry, attempt int) {
	s.mu.Lock()
	if s.shutdown || s.entries[messageID] != e {
		s.mu.Unlock()
		return
	}
	e.burning = true
	sink := s.sink
	s.mu.Unlock()

	ctx := context.Background()
	burnedAt := s.clk.Now()
	err := s.repo.Burn(ctx, messageID, burnedAt)

	switch {
	case err == nil:
		s.remove(messageID, e)
		ev := notify.BurnEvent{
			ConversationID: e.conversationID,
			MessageID:      messageID,
			BurnedAt:       burnedAt,
		}
		if nerr := sink.MessageBurned(ctx, ev); nerr != nil {
			s.log.Warn("burn notification failed",
				zap.String("message_id", messageID.String()), zap.Error(nerr))
		}
		s.log.Info("message burned",
			zap.String("message_id", messageID.String()),
			zap.String("conversation_id", e.conversationID.String()),
			zap.Int("attempt", attempt))
		return

	case errors.Is(err, errs.ErrNotFound):
		// Already burned or deleted out from under us; the entry is stale.
		s.remove(messageID, e)
		s.log.Debug("pending burn already gone",
			zap.String("message_id", messageID.String()))
		return
	}

	if attempt >= s.maxAttempts {
		// Promised destruction did not happen. Keep the entry visible in
		// Stats and the deadline durable, so the next LoadPending cycle
		// picks it up again.
		s.mu.Lock()
		e.burning = false
		e.timer = nil
		s.mu.Unlock()
		s.log.Error("burn failed; message body outlives its deadline",
			zap.String("message_id", messageID.String()),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}

	delay := s.backoff << (attempt - 1)
	s.mu.Lock()
	if s.shutdown || s.entries[messageID] != e {
		s.mu.Unlock()
		return
	}
	// The failed write destroyed nothing, so a cancel arriving between
	// attempts may still win.
	e.burning = false
	e.timer = s.clk.AfterFunc(delay, func() { s.attempt(messageID, e, attempt+1) })
	s.mu.Unlock()
	s.log.Warn("burn attempt failed; retrying",
		zap.String("message_id", messageID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay),
		zap.Error(err))
}

// remove drops the entry only if the index still holds this exact one.
func (s *BurnScheduler) remove(messageID uuid.UUID, e *entry) {
	s.mu.Lock()
	if s.entries[messageID] == e {
		delete(s.entries, messageID)
	}
	s.mu.Unlock()
}
