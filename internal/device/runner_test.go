package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-display-sync/internal/engine"
)

func startRunner(t *testing.T, r *Runner, clock *clockwork.FakeClock) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "runner ticker should be registered")
	return func() {
		cancel()
		<-done
	}
}

func receive(t *testing.T, ch <-chan engine.DisplayState) engine.DisplayState {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for display update")
		return engine.DisplayState{}
	}
}

func TestRunner_TicksAndSnapshots(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clock)
	updates, unsubscribe := r.Subscribe()
	defer unsubscribe()

	stop := startRunner(t, r, clock)
	defer stop()

	clock.Advance(time.Second)
	d := receive(t, updates)
	assert.Equal(t, engine.PhaseIdle, d.Phase, "ticks before any snapshot still publish the Idle defaults")

	r.OnSnapshot(engine.Snapshot{Phase: engine.PhaseRunning, RemainingSeconds: 600, ProducedAt: clock.Now()})
	d = receive(t, updates)
	assert.Equal(t, "10:00", d.Remaining)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		d = receive(t, updates)
	}
	assert.Equal(t, 597, d.RemainingSeconds)
	assert.Equal(t, d, r.Display())
}

func TestRunner_SnapshotBeforeTickWhenBothPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clock)
	updates, unsubscribe := r.Subscribe()
	defer unsubscribe()

	stop := startRunner(t, r, clock)
	defer stop()

	r.OnSnapshot(engine.Snapshot{Phase: engine.PhaseRunning, RemainingSeconds: 100, ProducedAt: clock.Now()})
	assert.Equal(t, engine.PhaseRunning, receive(t, updates).Phase)

	// Hold the loop inside a query while a tick and a snapshot both arrive.
	release := make(chan struct{})
	r.queries <- func(*engine.Engine) { <-release }
	clock.Advance(time.Second)
	r.OnSnapshot(engine.Snapshot{Phase: engine.PhaseComplete, ProducedAt: clock.Now()})
	close(release)

	first := receive(t, updates)
	assert.Equal(t, engine.PhaseComplete, first.Phase, "the pending snapshot is applied before the pending tick")
	second := receive(t, updates)
	assert.Equal(t, engine.PhaseComplete, second.Phase)
	assert.Equal(t, 1, second.Overtime, "the tick runs against the new phase")
}

func TestRunner_HistoryDuringShutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(runDone)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	r.OnSnapshot(engine.Snapshot{Phase: engine.PhaseRunning, RemainingSeconds: 60, ProducedAt: clock.Now()})

	// Keep the loop busy so the history read has to wait, then stop it.
	release := make(chan struct{})
	r.queries <- func(*engine.Engine) { <-release }

	result := make(chan []engine.LogEntry, 1)
	go func() {
		entries, err := r.History(context.Background(), 0)
		assert.NoError(t, err)
		result <- entries
	}()

	cancel()
	close(release)
	<-runDone

	select {
	case entries := <-result:
		require.Len(t, entries, 1)
		assert.Equal(t, engine.PhaseRunning, entries[0].Phase)
	case <-time.After(time.Second):
		t.Fatal("history read did not return after the runner stopped")
	}
}

func TestRunner_TransitionHooks(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var seen []engine.Phase
	hook := func(deviceID string, entry engine.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "washer-1", deviceID)
		seen = append(seen, entry.Phase)
	}

	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clock, hook)
	updates, unsubscribe := r.Subscribe()
	defer unsubscribe()
	stop := startRunner(t, r, clock)
	defer stop()

	for _, p := range []engine.Phase{engine.PhaseRunning, engine.PhaseRunning, engine.PhaseComplete} {
		r.OnSnapshot(engine.Snapshot{Phase: p, ProducedAt: clock.Now()})
		receive(t, updates)
	}

	mu.Lock()
	assert.Equal(t, []engine.Phase{engine.PhaseRunning, engine.PhaseComplete}, seen)
	mu.Unlock()

	history, err := r.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, engine.PhaseComplete, history[0].Phase)
}

func TestRunner_HistoryWithoutLoop(t *testing.T) {
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clockwork.NewFakeClock())
	history, err := r.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, engine.PhaseIdle, r.Display().Phase)
}

func TestRunner_OnSnapshotNeverBlocks(t *testing.T) {
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clockwork.NewFakeClock())

	done := make(chan struct{})
	go func() {
		for i := 0; i < snapshotBuffer*3; i++ {
			r.OnSnapshot(engine.Snapshot{Phase: engine.PhaseRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnSnapshot blocked with no loop running")
	}
	assert.Len(t, r.snapshots, snapshotBuffer)
}

func TestRunner_UnsubscribeIsIdempotent(t *testing.T) {
	r := NewRunner("washer-1", "Washer 1", engine.DefaultConfig(), clockwork.NewFakeClock())
	ch, unsubscribe := r.Subscribe()
	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	r.publish(engine.DisplayState{}) // must not panic on the closed channel
}

func TestRegistry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry()
	require.NoError(t, reg.Add(NewRunner("b", "B", engine.DefaultConfig(), clock)))
	require.NoError(t, reg.Add(NewRunner("a", "A", engine.DefaultConfig(), clock)))
	assert.Error(t, reg.Add(NewRunner("a", "again", engine.DefaultConfig(), clock)))

	runners := reg.List()
	require.Len(t, runners, 2)
	assert.Equal(t, "b", runners[0].ID)
	assert.Equal(t, "a", runners[1].ID)

	r, ok := reg.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", r.Name)
	_, ok = reg.Get("missing")
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry did not stop")
	}
}
