package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"laundry-display-sync/internal/model"
	"laundry-display-sync/internal/store"
)

type putSubscriptionRequest struct {
	Endpoint          string   `json:"endpoint" binding:"required"`
	P256DH            string   `json:"p256dh" binding:"required"`
	Auth              string   `json:"auth" binding:"required"`
	SubscribedDevices []string `json:"subscribed_devices"`
}

// PutSubscription handles the creation or replacement of a subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}

	subscription := model.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.PutSubscription(c.Request.Context(), subscription, req.SubscribedDevices); err != nil {
		log.Error().Err(err).Msg("failed to save subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save subscription"})
		return
	}

	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		log.Error().Err(err).Msg("failed to delete subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam reads a query value without decoding it. Push endpoints are
// URLs and clients do not agree on whether to escape them.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetSubscription handles the retrieval of a subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, errInvalidRequest)
		return
	}

	subscription, err := h.store.GetSubscription(c.Request.Context(), raw)
	if errors.Is(err, store.ErrNotFound) {
		// Retry with the decoded form before giving up.
		if decoded, decErr := url.QueryUnescape(raw); decErr == nil && decoded != raw {
			subscription, err = h.store.GetSubscription(c.Request.Context(), decoded)
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		} else {
			log.Error().Err(err).Msg("failed to fetch subscription")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch subscription"})
		}
		return
	}

	deviceIDs := make([]string, len(subscription.Devices))
	for i, d := range subscription.Devices {
		deviceIDs[i] = d.ID
	}

	c.JSON(http.StatusOK, gin.H{"subscribed_devices": deviceIDs})
}
