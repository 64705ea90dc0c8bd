package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hrkit/schedmsg/internal/metrics"
	"github.com/hrkit/schedmsg/internal/model"
	"github.com/hrkit/schedmsg/internal/store"
)

const DefaultBatchSize = 50

// Dispatcher is the per-record half of a tick; internal/dispatch implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *model.ScheduledMessage) error
}

// Tick is one due-message scan-and-dispatch cycle. Records are processed
// sequentially, in ascending scheduledAt order, so destination aggregate
// updates never interleave across records. A single record's failure is
// logged and never aborts the rest of the batch.
type Tick struct {
	store      store.Store
	dispatcher Dispatcher
	batchSize  int
	metrics    *metrics.Metrics // optional
	now        func() time.Time
}

type TickConfig struct {
	Store      store.Store
	Dispatcher Dispatcher
	BatchSize  int
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

func NewTick(cfg TickConfig) (*Tick, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tick{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		batchSize:  batchSize,
		metrics:    cfg.Metrics,
		now:        now,
	}, nil
}

func (t *Tick) Run(ctx context.Context) {
	start := time.Now()
	defer func() {
		if t.metrics != nil {
			t.metrics.TickTime.Observe(time.Since(start).Seconds())
		}
	}()

	due, err := t.store.ListDue(ctx, t.now(), t.batchSize)
	if err != nil {
		slog.Error("failed to list due messages", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	slog.Debug("found due messages", "count", len(due))

	for i := range due {
		m := &due[i]
		if err := t.dispatcher.Dispatch(ctx, m); err != nil {
			slog.Error("failed to process due message", "id", m.ID, "error", err)
		}
	}
}
