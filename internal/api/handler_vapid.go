package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type vapidResponse struct {
	PublicKey string   `json:"public_key"`
	Devices   []string `json:"devices"`
}

// GetVAPIDPublicKey returns the VAPID public key browsers need to subscribe,
// together with the device IDs a subscription may name.
// Push is optional; without keys the endpoint reports it as unavailable.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are disabled"})
		return
	}

	runners := h.devices.List()
	ids := make([]string, 0, len(runners))
	for _, r := range runners {
		ids = append(ids, r.ID)
	}
	c.JSON(http.StatusOK, vapidResponse{PublicKey: h.webpush.VAPIDPublicKey, Devices: ids})
}
