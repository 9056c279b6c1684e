// Package device hosts one reconciliation engine per observed device. Each
// Runner is the engine's single owner: ticks, snapshots and reads are all
// serialized through its loop goroutine.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/internal/engine"
)

const (
	snapshotBuffer   = 16
	subscriberBuffer = 8
)

// TransitionFunc observes every log entry an engine produces.
type TransitionFunc func(deviceID string, entry engine.LogEntry)

// Runner drives one device's engine from a 1-second clock and a snapshot queue.
type Runner struct {
	ID   string
	Name string

	eng   *engine.Engine
	clock clockwork.Clock

	snapshots chan engine.Snapshot
	queries   chan func(*engine.Engine)
	hooks     []TransitionFunc

	mu      sync.RWMutex
	latest  engine.DisplayState
	subs    map[chan engine.DisplayState]struct{}
	running bool
	done    chan struct{} // closed when the current Run returns
}

// NewRunner creates a runner. The engine is built here so nothing else can
// hold a reference to it.
func NewRunner(id, name string, cfg engine.Config, clock clockwork.Clock, hooks ...TransitionFunc) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	eng := engine.New(cfg, clock)
	return &Runner{
		ID:        id,
		Name:      name,
		eng:       eng,
		clock:     clock,
		snapshots: make(chan engine.Snapshot, snapshotBuffer),
		queries:   make(chan func(*engine.Engine)),
		hooks:     hooks,
		latest:    eng.Display(),
		subs:      make(map[chan engine.DisplayState]struct{}),
	}
}

// OnSnapshot queues a snapshot for the loop. It never blocks the caller; a
// full queue drops the snapshot since a newer one will follow.
func (r *Runner) OnSnapshot(s engine.Snapshot) {
	select {
	case r.snapshots <- s:
	default:
		log.Warn().Str("device_id", r.ID).Str("phase", string(s.Phase)).Msg("snapshot queue full, dropping snapshot")
	}
}

// Run owns the engine until ctx is cancelled. The tick starts immediately.
// When a snapshot and a tick are both pending the snapshot is applied first.
func (r *Runner) Run(ctx context.Context) {
	done := make(chan struct{})
	r.mu.Lock()
	r.running = true
	r.done = done
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		close(done)
		r.mu.Unlock()
	}()

	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Str("device_id", r.ID).Int("drift_threshold", r.eng.DriftThreshold()).Msg("device runner started")

	for {
		select {
		case s := <-r.snapshots:
			r.applySnapshot(s)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			log.Info().Str("device_id", r.ID).Msg("device runner shutting down")
			return
		case s := <-r.snapshots:
			r.applySnapshot(s)
		case <-ticker.Chan():
			r.publish(r.eng.OnTick())
		case q := <-r.queries:
			q(r.eng)
		}
	}
}

func (r *Runner) applySnapshot(s engine.Snapshot) {
	display, entry := r.eng.OnSnapshot(s)
	r.publish(display)
	if entry == nil {
		return
	}

	log.Info().
		Str("device_id", r.ID).
		Str("phase", string(entry.Phase)).
		Str("identity_tag", entry.IdentityTag).
		Str("remaining", display.Remaining).
		Msg("device phase changed")
	for _, hook := range r.hooks {
		hook(r.ID, *entry)
	}
}

// publish stores the latest display and fans it out. Subscribers that are
// not keeping up miss updates rather than stall the loop.
func (r *Runner) publish(d engine.DisplayState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = d
	for ch := range r.subs {
		select {
		case ch <- d:
		default:
		}
	}
}

// Display returns the most recently published display state.
func (r *Runner) Display() engine.DisplayState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Subscribe returns a channel receiving every published display state and a
// func that ends the subscription.
func (r *Runner) Subscribe() (<-chan engine.DisplayState, func()) {
	ch := make(chan engine.DisplayState, subscriberBuffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// History reads the full transition log through the loop. Before the loop
// starts, or after it stops, the read happens directly.
func (r *Runner) History(ctx context.Context, limit int) ([]engine.LogEntry, error) {
	r.mu.RLock()
	if !r.running {
		// Run cannot start mutating while the read lock is held.
		entries := r.eng.History(limit)
		r.mu.RUnlock()
		return entries, nil
	}
	done := r.done
	r.mu.RUnlock()

	result := make(chan []engine.LogEntry, 1)
	query := func(e *engine.Engine) { result <- e.History(limit) }

	select {
	case r.queries <- query:
	case <-done:
		return r.History(ctx, limit)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case entries := <-result:
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
