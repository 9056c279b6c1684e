package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-display-sync/internal/engine"
	"laundry-display-sync/internal/model"
	"laundry-display-sync/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// fakeStore serves subscriptions from memory and records deletions.
type fakeStore struct {
	mu      sync.Mutex
	subs    map[string][]model.PushSubscription
	names   map[string]string
	deleted []string
}

func (f *fakeStore) SubscriptionsForDevice(_ context.Context, deviceID string) ([]model.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[deviceID], nil
}

func (f *fakeStore) DeviceName(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func (f *fakeStore) deletedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, &fakeStore{}, &webpush.Options{})

	accepted := 0
	for i := 0; i < cap(wp.jobs)+3; i++ {
		if wp.Dispatch(Job{DeviceID: "washer-1", Phase: engine.PhaseComplete}) {
			accepted++
		}
	}
	assert.Equal(t, cap(wp.jobs), accepted)

	job := <-wp.jobs
	assert.Equal(t, "washer-1", job.DeviceID)
}

func TestWorkerPool_OnTransitionFiltersPhases(t *testing.T) {
	wp := NewWorkerPool(1, &fakeStore{}, &webpush.Options{})

	for _, p := range []engine.Phase{engine.PhaseIdle, engine.PhaseRunning, engine.PhaseComplete, engine.PhaseAborted} {
		wp.OnTransition("washer-1", engine.LogEntry{Phase: p, IdentityTag: "04A1"})
	}

	require.Len(t, wp.jobs, 2)
	assert.Equal(t, Job{DeviceID: "washer-1", Phase: engine.PhaseComplete, IdentityTag: "04A1"}, <-wp.jobs)
	assert.Equal(t, engine.PhaseAborted, (<-wp.jobs).Phase)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	fs := &fakeStore{
		subs: map[string][]model.PushSubscription{
			"washer-1": {{Endpoint: "https://example.com/push", P256DH: "test_p256dh", Auth: "test_auth"}},
			"washer-2": {{Endpoint: "https://example.com/expired", P256DH: "x", Auth: "y"}},
			"washer-3": {{Endpoint: "https://example.com/fallback", P256DH: "x", Auth: "y"}},
		},
		names: map[string]string{"washer-1": "Washer 1", "washer-2": "Washer 2"},
	}
	wp := NewWorkerPool(1, fs, &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends notification with device name", func(t *testing.T) {
		got := make(chan Payload, 1)
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				got <- p
				return response(http.StatusCreated), nil
			},
		}

		wp.Dispatch(Job{DeviceID: "washer-1", Phase: engine.PhaseComplete})
		select {
		case p := <-got:
			assert.Equal(t, "Cycle complete", p.Title)
			assert.Equal(t, "Washer 1: cycle is COMPLETE.", p.Body)
			assert.Equal(t, engine.PhaseComplete, p.Phase)
		case <-time.After(time.Second):
			t.Fatal("notification was not sent")
		}
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return response(http.StatusGone), nil
			},
		}

		wp.Dispatch(Job{DeviceID: "washer-2", Phase: engine.PhaseAborted})
		require.Eventually(t, func() bool {
			return len(fs.deletedEndpoints()) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"https://example.com/expired"}, fs.deletedEndpoints())
	})

	t.Run("falls back to device ID when name is unknown", func(t *testing.T) {
		got := make(chan Payload, 1)
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				got <- p
				return nil, errors.New("push service unreachable")
			},
		}

		wp.Dispatch(Job{DeviceID: "washer-3", Phase: engine.PhaseAborted})
		select {
		case p := <-got:
			assert.Equal(t, "washer-3: cycle was ABORTED.", p.Body)
		case <-time.After(time.Second):
			t.Fatal("notification was not attempted")
		}
	})
}
