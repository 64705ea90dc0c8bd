package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/recurrence"
	"github.com/hrkit/schedmsg/internal/scheduler"
	"github.com/hrkit/schedmsg/internal/store"
)

// Service is the public scheduling contract: schedule, list, get, update and
// cancel records, and control the poller lifecycle. All record reads and
// mutations are scoped to the calling sender as owner.
type Service struct {
	store      store.Store
	poller     *scheduler.Poller
	contentMax int
	now        func() time.Time
}

type Config struct {
	Store      store.Store
	Poller     *scheduler.Poller
	ContentMax int
	Now        func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.ContentMax <= 0 {
		return nil, errors.New("content max must be > 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      cfg.Store,
		poller:     cfg.Poller,
		contentMax: cfg.ContentMax,
		now:        now,
	}, nil
}

// ScheduleParams are the inputs to Schedule. Exactly one of ChannelID/RoomID
// must be set. Kind defaults to text.
type ScheduleParams struct {
	SenderKind model.SenderKind
	SenderID   string
	SenderName string

	ChannelID string
	RoomID    string
	ThreadID  string

	Content string
	Kind    model.MessageKind
	File    *model.FileRef

	ScheduledAt       time.Time
	Timezone          string
	IsRecurring       bool
	RecurrencePattern model.RecurrencePattern
	RecurrenceEndAt   *time.Time
}

func (s *Service) Schedule(ctx context.Context, p ScheduleParams) (*model.ScheduledMessage, error) {
	if p.SenderID == "" {
		return nil, invalidf("senderId", "must not be empty")
	}
	if p.Kind == "" {
		p.Kind = model.KindText
	}

	if err := s.validatePayload(p.Content, p.Kind, p.File); err != nil {
		return nil, err
	}
	if err := s.validateDestination(p.ChannelID, p.RoomID); err != nil {
		return nil, err
	}
	if err := s.validateScheduledAt(p.ScheduledAt); err != nil {
		return nil, err
	}

	if p.IsRecurring {
		if p.RecurrencePattern == "" {
			return nil, invalidf("recurrencePattern", "required when isRecurring is set")
		}
		if err := recurrence.Validate(p.RecurrencePattern); err != nil {
			return nil, invalidf("recurrencePattern", "%v", err)
		}
		if p.RecurrenceEndAt != nil && !p.RecurrenceEndAt.After(p.ScheduledAt) {
			return nil, invalidf("recurrenceEndAt", "must be after scheduledAt")
		}
	} else {
		p.RecurrencePattern = ""
		p.RecurrenceEndAt = nil
	}

	timezone := p.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	now := s.now().UTC()
	m := &model.ScheduledMessage{
		SenderKind:        p.SenderKind,
		SenderID:          p.SenderID,
		SenderName:        p.SenderName,
		ChannelID:         p.ChannelID,
		RoomID:            p.RoomID,
		ThreadID:          p.ThreadID,
		Content:           p.Content,
		Kind:              p.Kind,
		File:              p.File,
		ScheduledAt:       p.ScheduledAt.UTC(),
		Timezone:          timezone,
		IsRecurring:       p.IsRecurring,
		RecurrencePattern: p.RecurrencePattern,
		RecurrenceEndAt:   p.RecurrenceEndAt,
		Status:            model.Pending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if _, err := s.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create scheduled message: %w", err)
	}
	return m, nil
}

func (s *Service) ListForOwner(ctx context.Context, kind model.SenderKind, senderID string, includeTerminal bool) ([]model.ScheduledMessage, error) {
	if senderID == "" {
		return nil, invalidf("senderId", "must not be empty")
	}
	return s.store.ListByOwner(ctx, kind, senderID, includeTerminal)
}

func (s *Service) Get(ctx context.Context, id, senderID string) (*model.ScheduledMessage, error) {
	m, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.SenderID != senderID {
		return nil, ErrNotFound
	}
	return m, nil
}

// UpdateParams holds the fields an owner may change on a pending record.
// Nil fields are left untouched; ClearRecurrenceEnd removes recurrenceEndAt.
type UpdateParams struct {
	Content            *string
	ScheduledAt        *time.Time
	IsRecurring        *bool
	RecurrencePattern  *model.RecurrencePattern
	RecurrenceEndAt    *time.Time
	ClearRecurrenceEnd bool
}

func (s *Service) Update(ctx context.Context, id, senderID string, u UpdateParams) (*model.ScheduledMessage, error) {
	current, err := s.Get(ctx, id, senderID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.Pending {
		return nil, ErrNotModifiable
	}

	patch := store.Patch{
		RecurrenceEndAt:    u.RecurrenceEndAt,
		ClearRecurrenceEnd: u.ClearRecurrenceEnd,
	}

	if u.Content != nil {
		if err := s.validatePayload(*u.Content, current.Kind, current.File); err != nil {
			return nil, err
		}
		patch.Content = u.Content
	}
	if u.ScheduledAt != nil {
		if err := s.validateScheduledAt(*u.ScheduledAt); err != nil {
			return nil, err
		}
		t := u.ScheduledAt.UTC()
		patch.ScheduledAt = &t
	}
	if u.IsRecurring != nil {
		patch.IsRecurring = u.IsRecurring
	}
	if u.RecurrencePattern != nil {
		if err := recurrence.Validate(*u.RecurrencePattern); err != nil {
			return nil, invalidf("recurrencePattern", "%v", err)
		}
		patch.RecurrencePattern = u.RecurrencePattern
	}

	applied, err := s.store.ConditionalUpdate(ctx, id, model.Pending, patch)
	if err != nil {
		return nil, fmt.Errorf("update scheduled message: %w", err)
	}
	if !applied {
		// Lost the race against the poller or a concurrent cancel.
		return nil, ErrNotModifiable
	}

	return s.Get(ctx, id, senderID)
}

// Cancel marks a pending record cancelled, reporting whether the cancel
// actually applied. False means the record was already dispatched, failed or
// cancelled: an "already processed" outcome, not an error.
func (s *Service) Cancel(ctx context.Context, id, senderID string) (bool, error) {
	if _, err := s.Get(ctx, id, senderID); err != nil {
		return false, err
	}

	cancelled := model.Cancelled
	return s.store.ConditionalUpdate(ctx, id, model.Pending, store.Patch{Status: &cancelled})
}

// Start launches the poller. Idempotent; reports whether the state changed.
func (s *Service) Start() bool {
	if s.poller == nil {
		return false
	}
	return s.poller.Start()
}

// Stop halts the poller, waiting for an in-flight tick to finish.
func (s *Service) Stop() bool {
	if s.poller == nil {
		return false
	}
	return s.poller.Stop()
}

func (s *Service) PollerRunning() bool {
	return s.poller != nil && s.poller.IsRunning()
}

func (s *Service) validatePayload(content string, kind model.MessageKind, file *model.FileRef) error {
	if content == "" {
		return invalidf("content", "must not be empty")
	}
	if utf8.RuneCountInString(content) > s.contentMax {
		return invalidf("content", "exceeds %d characters", s.contentMax)
	}

	switch kind {
	case model.KindText:
	case model.KindFile, model.KindVoice:
		if file == nil || file.URL == "" {
			return invalidf("file", "required for %s messages", kind)
		}
	default:
		return invalidf("kind", "unknown message kind %q", kind)
	}
	return nil
}

func (s *Service) validateDestination(channelID, roomID string) error {
	if channelID == "" && roomID == "" {
		return invalidf("destination", "one of channelId or roomId is required")
	}
	if channelID != "" && roomID != "" {
		return invalidf("destination", "channelId and roomId are mutually exclusive")
	}
	return nil
}

func (s *Service) validateScheduledAt(at time.Time) error {
	if at.IsZero() {
		return invalidf("scheduledAt", "is required")
	}
	if !at.After(s.now()) {
		return invalidf("scheduledAt", "must be in the future")
	}
	return nil
}
