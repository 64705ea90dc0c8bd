package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/scheduler"
	"github.com/hrkit/schedmsg/internal/store"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, m *model.ScheduledMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, m.ID)
	if err, ok := d.fail[m.ID]; ok {
		return err
	}
	return nil
}

func createAt(t *testing.T, st *store.MemoryStore, id string, at time.Time) {
	t.Helper()

	m := &model.ScheduledMessage{
		ID:          id,
		SenderKind:  model.SenderEmployee,
		SenderID:    "emp-1",
		ChannelID:   "ch-1",
		Content:     "hi",
		Kind:        model.KindText,
		ScheduledAt: at,
	}
	if _, err := st.Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
}

func TestTick_ProcessesDueSetInOrder(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore("acme")
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	createAt(t, st, "late", now.Add(-time.Minute))
	createAt(t, st, "early", now.Add(-time.Hour))
	createAt(t, st, "future", now.Add(time.Hour))

	d := &recordingDispatcher{}
	tick, err := scheduler.NewTick(scheduler.TickConfig{
		Store:      st,
		Dispatcher: d,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTick() error: %v", err)
	}

	tick.Run(context.Background())

	if len(d.ids) != 2 {
		t.Fatalf("expected 2 dispatches, got %d (%v)", len(d.ids), d.ids)
	}
	if d.ids[0] != "early" || d.ids[1] != "late" {
		t.Fatalf("expected ascending scheduledAt order, got %v", d.ids)
	}
}

func TestTick_RespectsBatchLimit(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore("acme")
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		createAt(t, st, string(rune('a'+i)), now.Add(-time.Duration(i+1)*time.Minute))
	}

	d := &recordingDispatcher{}
	tick, err := scheduler.NewTick(scheduler.TickConfig{
		Store:      st,
		Dispatcher: d,
		BatchSize:  2,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTick() error: %v", err)
	}

	tick.Run(context.Background())

	if len(d.ids) != 2 {
		t.Fatalf("expected batch limit of 2, got %d dispatches", len(d.ids))
	}
}

func TestTick_OneFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore("acme")
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	createAt(t, st, "first", now.Add(-3*time.Minute))
	createAt(t, st, "second", now.Add(-2*time.Minute))
	createAt(t, st, "third", now.Add(-time.Minute))

	d := &recordingDispatcher{
		fail: map[string]error{"second": errors.New("store hiccup")},
	}
	tick, err := scheduler.NewTick(scheduler.TickConfig{
		Store:      st,
		Dispatcher: d,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewTick() error: %v", err)
	}

	tick.Run(context.Background())

	if len(d.ids) != 3 {
		t.Fatalf("expected all 3 records attempted, got %v", d.ids)
	}
}
