package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"laundry-display-sync/internal/device"
	"laundry-display-sync/internal/engine"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// deviceResponse is one entry of GET /api/devices.
type deviceResponse struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Display engine.DisplayState `json:"display"`
}

// logResponse is the body of GET /api/devices/:id/log.
type logResponse struct {
	DeviceID string            `json:"deviceId"`
	Entries  []engine.LogEntry `json:"entries"`
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	runners := h.devices.List()
	response := make([]deviceResponse, 0, len(runners))
	for _, r := range runners {
		response = append(response, deviceResponse{ID: r.ID, Name: r.Name, Display: r.Display()})
	}
	c.JSON(http.StatusOK, response)
}

// GetDevice handles GET /api/devices/:id.
func (h *Handler) GetDevice(c *gin.Context) {
	r, ok := h.runner(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.Display())
}

// GetDeviceLog handles GET /api/devices/:id/log?limit=N. Entries are newest first.
func (h *Handler) GetDeviceLog(c *gin.Context) {
	r, ok := h.runner(c)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errInvalidRequest)
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := r.History(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "device log unavailable"})
		return
	}
	if entries == nil {
		entries = []engine.LogEntry{}
	}
	c.JSON(http.StatusOK, logResponse{DeviceID: r.ID, Entries: entries})
}

// runner resolves the :id path parameter, writing a 404 when it is unknown.
func (h *Handler) runner(c *gin.Context) (*device.Runner, bool) {
	r, ok := h.devices.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errDeviceNotFound)
		return nil, false
	}
	return r, true
}
