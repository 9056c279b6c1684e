package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/internal/engine"
	"laundry-display-sync/internal/model"
	"laundry-display-sync/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Subscriptions is the slice of the store the workers need.
type Subscriptions interface {
	SubscriptionsForDevice(ctx context.Context, deviceID string) ([]model.PushSubscription, error)
	DeviceName(ctx context.Context, id string) (string, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Job is one device transition worth telling subscribers about.
type Job struct {
	DeviceID    string
	Phase       engine.Phase
	IdentityTag string
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	DeviceID string       `json:"deviceId"`
	Phase    engine.Phase `json:"phase"`
	Title    string       `json:"title"`
	Body     string       `json:"body"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   Subscriptions
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s Subscriptions, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*4),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Debug().Int("worker", id).Msg("notification worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForDevice(ctx, job)
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("notification worker shutting down")
			return
		}
	}
}

// Dispatch queues a job without blocking. Jobs are dropped when the queue is full.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		log.Warn().Str("device_id", job.DeviceID).Str("phase", string(job.Phase)).Msg("notification queue full, dropping job")
		return false
	}
}

// OnTransition turns engine log entries into jobs. Only Complete and Aborted notify.
func (wp *WorkerPool) OnTransition(deviceID string, entry engine.LogEntry) {
	if entry.Phase != engine.PhaseComplete && entry.Phase != engine.PhaseAborted {
		return
	}
	wp.Dispatch(Job{DeviceID: deviceID, Phase: entry.Phase, IdentityTag: entry.IdentityTag})
}

// Message builds the notification text for a transition.
func Message(deviceName string, phase engine.Phase) (title, body string) {
	switch phase {
	case engine.PhaseAborted:
		return "Cycle aborted", fmt.Sprintf("%s: cycle was ABORTED.", deviceName)
	default:
		return "Cycle complete", fmt.Sprintf("%s: cycle is COMPLETE.", deviceName)
	}
}

func (wp *WorkerPool) sendNotificationsForDevice(ctx context.Context, job Job) {
	logger := log.With().Str("device_id", job.DeviceID).Str("phase", string(job.Phase)).Logger()

	subscriptions, err := wp.store.SubscriptionsForDevice(ctx, job.DeviceID)
	if err != nil {
		logger.Error().Err(err).Msg("error fetching subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	label := job.DeviceID
	name, err := wp.store.DeviceName(ctx, job.DeviceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		logger.Warn().Err(err).Msg("error fetching device name")
	case name != "":
		label = name
	}

	title, body := Message(label, job.Phase)
	payload, err := json.Marshal(Payload{DeviceID: job.DeviceID, Phase: job.Phase, Title: title, Body: body})
	if err != nil {
		logger.Error().Err(err).Msg("error encoding payload")
		return
	}

	logger.Info().Int("subscriptions", len(subscriptions)).Msg("sending notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("error sending notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
