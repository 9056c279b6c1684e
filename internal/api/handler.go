package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"laundry-display-sync/internal/device"
	"laundry-display-sync/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	devices *device.Registry
	webpush *webpush.Options
	sockets *ConnectionManager
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, devices *device.Registry, webpushOptions *webpush.Options, sockets *ConnectionManager) *Handler {
	if sockets == nil {
		sockets = NewConnectionManager(DefaultConnectionConfig())
	}
	return &Handler{
		store:   s,
		devices: devices,
		webpush: webpushOptions,
		sockets: sockets,
	}
}

// errInvalidRequest is the body returned for any malformed request.
var errInvalidRequest = map[string]string{"error": "invalid request"}

// errDeviceNotFound is the body returned for unknown device IDs.
var errDeviceNotFound = map[string]string{"error": "device not found"}
