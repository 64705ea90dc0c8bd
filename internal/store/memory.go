package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrkit/schedmsg/internal/model"
)

// MemoryStore is an in-memory Store used in tests and local development.
// It applies the same conditional-update semantics as the postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	siteCode string
	records  map[string]*model.ScheduledMessage
}

func NewMemoryStore(siteCode string) *MemoryStore {
	return &MemoryStore{
		siteCode: siteCode,
		records:  make(map[string]*model.ScheduledMessage),
	}
}

func (s *MemoryStore) Create(_ context.Context, m *model.ScheduledMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, exists := s.records[m.ID]; exists {
		return "", errors.New("duplicate id")
	}

	m.SiteCode = s.siteCode
	if m.Status == "" {
		m.Status = model.Pending
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	clone := *m
	s.records[m.ID] = &clone
	return m.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduledMessage
	for _, m := range s.records {
		if m.Status == model.Pending && !m.ScheduledAt.After(now) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, kind model.SenderKind, senderID string, includeTerminal bool) ([]model.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ScheduledMessage
	for _, m := range s.records {
		if m.SenderKind != kind || m.SenderID != senderID {
			continue
		}
		if !includeTerminal && m.Status != model.Pending {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id string, expected model.Status, p Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.records[id]
	if !ok || m.Status != expected {
		return false, nil
	}

	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.SentAt != nil {
		t := p.SentAt.UTC()
		m.SentAt = &t
	}
	if p.DeliveredMessageID != nil {
		v := *p.DeliveredMessageID
		m.DeliveredMessageID = &v
	}
	if p.LastError != nil {
		v := *p.LastError
		m.LastError = &v
	}
	if p.RetryCount != nil {
		m.RetryCount = *p.RetryCount
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.ScheduledAt != nil {
		m.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.IsRecurring != nil {
		m.IsRecurring = *p.IsRecurring
	}
	if p.RecurrencePattern != nil {
		m.RecurrencePattern = *p.RecurrencePattern
	}
	if p.ClearRecurrenceEnd {
		m.RecurrenceEndAt = nil
	} else if p.RecurrenceEndAt != nil {
		t := p.RecurrenceEndAt.UTC()
		m.RecurrenceEndAt = &t
	}
	m.UpdatedAt = time.Now().UTC()

	return true, nil
}
