package store

import (
	"context"
	"errors"
	"time"

	"github.com/hrkit/schedmsg/internal/model"
)

var ErrNotFound = errors.New("scheduled message not found")

// Patch lists the fields a ConditionalUpdate may change. Nil fields are left
// untouched; ClearRecurrenceEnd sets recurrence_end_at to NULL and wins over
// RecurrenceEndAt.
type Patch struct {
	Status             *model.Status
	SentAt             *time.Time
	DeliveredMessageID *string
	LastError          *string
	RetryCount         *int

	Content            *string
	ScheduledAt        *time.Time
	IsRecurring        *bool
	RecurrencePattern  *model.RecurrencePattern
	RecurrenceEndAt    *time.Time
	ClearRecurrenceEnd bool
}

// Store persists scheduled messages. Every implementation scopes all queries
// to a single tenant site code. Records are never deleted; cancellation and
// terminal failure are recorded, not erased.
type Store interface {
	// Create persists the record, assigns its id and returns it.
	Create(ctx context.Context, m *model.ScheduledMessage) (string, error)

	// Get returns the record by id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.ScheduledMessage, error)

	// ListDue returns pending records with scheduledAt <= now, ascending by
	// scheduledAt, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error)

	// ListByOwner returns the sender's records; terminal records are included
	// only when includeTerminal is set.
	ListByOwner(ctx context.Context, kind model.SenderKind, senderID string, includeTerminal bool) ([]model.ScheduledMessage, error)

	// ConditionalUpdate applies the patch only if the record's current status
	// equals expected, reporting whether it applied. This is the primitive
	// that lets a user cancel and the poller dispatch race safely: exactly
	// one of them wins.
	ConditionalUpdate(ctx context.Context, id string, expected model.Status, p Patch) (bool, error)
}
