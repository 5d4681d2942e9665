// Package timelock renders the readability verdict for messages whose
// bodies are gated on an external chain height. It is pure: callers feed
// it the stored condition and the current height and act on the verdict.
package timelock

import (
	"fmt"

	"github.com/emberchat/ember-server/internal/errs"
)

// Verdict is the readability decision for a message body.
type Verdict int

const (
	// Locked means the chain has not reached the unlock height yet.
	Locked Verdict = iota
	// Unlocked means the body may be served.
	Unlocked
)

func (v Verdict) String() string {
	if v == Unlocked {
		return "UNLOCKED"
	}
	return "LOCKED"
}

// Evaluate decides whether a message body is readable at currentHeight.
// A nil condition never locks. The boundary is inclusive: the message
// unlocks exactly when the chain reaches the condition height.
func Evaluate(unlockHeight *int64, currentHeight int64) Verdict {
	if unlockHeight == nil || currentHeight >= *unlockHeight {
		return Unlocked
	}
	return Locked
}

// ValidateCondition rejects unlock conditions that are not strictly in
// the future. A condition at or below the current height would be a
// no-op lock, which is a caller mistake, not a degenerate success.
func ValidateCondition(unlockHeight *int64, currentHeight int64) error {
	if unlockHeight == nil {
		return nil
	}
	if *unlockHeight <= currentHeight {
		return fmt.Errorf("unlock height %d is not above current height %d: %w",
			*unlockHeight, currentHeight, errs.ErrPrecondition)
	}
	return nil
}

// Remaining reports how many heights are left until unlock, zero when the
// message is unconditioned or already unlocked.
func Remaining(unlockHeight *int64, currentHeight int64) int64 {
	if unlockHeight == nil || currentHeight >= *unlockHeight {
		return 0
	}
	return *unlockHeight - currentHeight
}
