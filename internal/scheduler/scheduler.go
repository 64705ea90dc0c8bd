package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Poller runs the due-message scan on a fixed cadence, plus once immediately
// at startup. At most one tick runs at a time: an overlapping timer fire is
// skipped outright, never queued, so an overrunning tick delays work but
// never duplicates it.
//
// One active poller per deployment is assumed. Running several pollers
// against the same store is unsafe without a distributed lock or per-tenant
// partitioning.
type Poller struct {
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool
	ticking atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(interval time.Duration, tickFn func(context.Context)) (*Poller, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Poller{
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		slog.Info("poller started", "interval", p.interval.String())

		p.spawnTick(ctx)

		for {
			select {
			case <-ctx.Done():
				p.wg.Wait()
				slog.Info("poller stopping")
				return
			case <-ticker.C:
				p.spawnTick(ctx)
			}
		}
	}()

	return true
}

func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return false
	}

	p.cancel()
	<-p.done
	p.running.Store(false)

	slog.Info("poller stopped")
	return true
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

// spawnTick starts one tick unless a previous tick is still in flight.
func (p *Poller) spawnTick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		slog.Warn("previous tick still running, skipping this fire")
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.ticking.Store(false)
		p.safeTick(ctx)
	}()
}

func (p *Poller) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poll tick panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	p.tickFn(ctx)
	slog.Info("poll tick completed", "duration_ms", time.Since(start).Milliseconds())
}
