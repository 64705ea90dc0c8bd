package retry

import (
	"context"
	"errors"

	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/store"
)

const DefaultMaxAttempts = 3

// Policy decides what happens to a record after a failed dispatch. There is
// deliberately no backoff: a requeued record is still due and is retried on
// the very next poll tick, so the effective retry delay equals the poll
// interval.
type Policy struct {
	store       store.Store
	maxAttempts int
}

func NewPolicy(st store.Store, maxAttempts int) (*Policy, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{store: st, maxAttempts: maxAttempts}, nil
}

// HandleFailure records one failed attempt via a conditional update gated on
// the record still being pending. It reports whether the failure was terminal
// and whether the update actually applied (false means the record was
// cancelled or otherwise mutated concurrently, in which case the failure is
// dropped).
func (p *Policy) HandleFailure(ctx context.Context, m *model.ScheduledMessage, cause error) (terminal bool, applied bool, err error) {
	newCount := m.RetryCount + 1
	reason := cause.Error()

	patch := store.Patch{
		RetryCount: &newCount,
		LastError:  &reason,
	}

	terminal = newCount >= p.maxAttempts
	if terminal {
		failed := model.Failed
		patch.Status = &failed
	}

	applied, err = p.store.ConditionalUpdate(ctx, m.ID, model.Pending, patch)
	return terminal, applied, err
}

func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}
