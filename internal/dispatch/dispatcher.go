package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hrkit/schedmsg/internal/cache"
	"github.com/hrkit/schedmsg/internal/metrics"
	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/recurrence"
	"github.com/hrkit/schedmsg/internal/retry"
	"github.com/hrkit/schedmsg/internal/store"
)

const previewMax = 80

// Dispatcher turns one due record into a concrete delivered message. Every
// record mutation goes through ConditionalUpdate gated on pending, so a
// concurrent cancel and a dispatch resolve to exactly one winner.
type Dispatcher struct {
	store     store.Store
	messaging Messaging
	policy    *retry.Policy
	receipts  cache.ReceiptCache // optional
	metrics   *metrics.Metrics   // optional
	now       func() time.Time
}

type Config struct {
	Store     store.Store
	Messaging Messaging
	Policy    *retry.Policy
	Receipts  cache.ReceiptCache
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Messaging == nil {
		return nil, errors.New("messaging must not be nil")
	}
	if cfg.Policy == nil {
		return nil, errors.New("retry policy must not be nil")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:     cfg.Store,
		messaging: cfg.Messaging,
		policy:    cfg.Policy,
		receipts:  cfg.Receipts,
		metrics:   cfg.Metrics,
		now:       now,
	}, nil
}

// Dispatch delivers one due record and marks the outcome. A collaborator
// failure is routed through the retry policy and is not returned; only store
// errors propagate, and the caller is expected to log them and move on.
func (d *Dispatcher) Dispatch(ctx context.Context, m *model.ScheduledMessage) error {
	deliveredID := uuid.New().String()

	req := DeliveryRequest{
		MessageID:  deliveredID,
		ChannelID:  m.ChannelID,
		RoomID:     m.RoomID,
		ThreadID:   m.ThreadID,
		SenderKind: string(m.SenderKind),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Kind:       string(m.Kind),
		File:       m.File,
	}

	if err := d.deliver(ctx, m, req); err != nil {
		return d.handleFailure(ctx, m, err)
	}

	sentAt := d.now().UTC()
	sent := model.Sent
	applied, err := d.store.ConditionalUpdate(ctx, m.ID, model.Pending, store.Patch{
		Status:             &sent,
		SentAt:             &sentAt,
		DeliveredMessageID: &deliveredID,
	})
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !applied {
		// The record was cancelled while the delivery was in flight. The
		// message went out (at-least-once), but the cancel won the status.
		slog.Warn("record mutated during dispatch, not marking sent",
			"id", m.ID, "delivered_message_id", deliveredID)
		return nil
	}

	if d.metrics != nil {
		d.metrics.Sent.Inc()
	}
	if d.receipts != nil {
		if err := d.receipts.StoreSent(ctx, m.ID, deliveredID, sentAt); err != nil {
			slog.Warn("failed to cache delivery receipt", "id", m.ID, "error", err)
		}
	}

	slog.Info("scheduled message sent",
		"id", m.ID,
		"destination", m.DestinationID(),
		"delivered_message_id", deliveredID,
	)

	if m.IsRecurring && m.RecurrencePattern != "" {
		d.chainNext(ctx, m)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, m *model.ScheduledMessage, req DeliveryRequest) error {
	if err := d.messaging.Deliver(ctx, req); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	now := d.now().UTC()
	dest := m.DestinationID()

	if err := d.messaging.UpdateDestinationAggregate(ctx, dest, now, preview(m), 1); err != nil {
		return fmt.Errorf("update destination aggregate: %w", err)
	}
	if err := d.messaging.IncrementUnreadForMembersExcept(ctx, dest, m.SenderID); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	if err := d.messaging.Broadcast(ctx, dest, BroadcastEvent{
		Type:       EventMessageSent,
		MessageID:  req.MessageID,
		ThreadID:   m.ThreadID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Kind:       string(m.Kind),
		SentAt:     now,
	}); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, m *model.ScheduledMessage, cause error) error {
	terminal, applied, err := d.policy.HandleFailure(ctx, m, cause)
	if err != nil {
		return fmt.Errorf("record dispatch failure: %w", err)
	}

	switch {
	case !applied:
		slog.Warn("record mutated during failed dispatch, dropping failure",
			"id", m.ID, "error", cause)
	case terminal:
		if d.metrics != nil {
			d.metrics.Failed.Inc()
		}
		slog.Error("scheduled message failed terminally",
			"id", m.ID, "attempts", m.RetryCount+1, "error", cause)
	default:
		if d.metrics != nil {
			d.metrics.Retried.Inc()
		}
		slog.Warn("scheduled message dispatch failed, will retry next tick",
			"id", m.ID, "attempts", m.RetryCount+1, "error", cause)
	}
	return nil
}

// chainNext creates the follow-up record of a recurring message. The chain
// stops once the next occurrence passes recurrenceEndAt.
func (d *Dispatcher) chainNext(ctx context.Context, m *model.ScheduledMessage) {
	next, err := recurrence.Next(m.ScheduledAt, m.RecurrencePattern)
	if err != nil {
		// Patterns are validated at the schedule boundary, so this only
		// fires for records written before validation existed.
		slog.Warn("unsupported recurrence pattern, falling back to daily",
			"id", m.ID, "pattern", m.RecurrencePattern, "error", err)
		next, _ = recurrence.Next(m.ScheduledAt, model.PatternDaily)
	}

	if m.RecurrenceEndAt != nil && next.After(*m.RecurrenceEndAt) {
		slog.Info("recurrence chain completed", "id", m.ID, "end_at", m.RecurrenceEndAt)
		return
	}

	clone := m.CloneForNextOccurrence(next)
	id, err := d.store.Create(ctx, clone)
	if err != nil {
		slog.Error("failed to create next occurrence", "id", m.ID, "error", err)
		return
	}

	if d.metrics != nil {
		d.metrics.Chained.Inc()
	}
	slog.Info("scheduled next occurrence",
		"id", m.ID, "next_id", id, "next_at", next, "pattern", m.RecurrencePattern)
}

func preview(m *model.ScheduledMessage) string {
	switch m.Kind {
	case model.KindFile:
		if m.File != nil && m.File.Name != "" {
			return m.File.Name
		}
		return "[file]"
	case model.KindVoice:
		return "[voice message]"
	}

	if utf8.RuneCountInString(m.Content) <= previewMax {
		return m.Content
	}
	runes := []rune(m.Content)
	return string(runes[:previewMax])
}
