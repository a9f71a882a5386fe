package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigilguard/vigil/internal/models"
	"github.com/vigilguard/vigil/internal/services"
)

// SecurityHandler exposes the policy engine to operators: decisions, event
// history, IP lists and manual block/unblock actions.
type SecurityHandler struct {
	registry *services.Registry
}

// NewSecurityHandler returns a SecurityHandler over the service registry.
func NewSecurityHandler(registry *services.Registry) *SecurityHandler {
	return &SecurityHandler{registry: registry}
}

// Check evaluates a request against the rate limiter. Allowed requests are
// not recorded here (pairing a Record call is the caller's job); a denial
// past the burst zone writes its own exceeded event.
func (h *SecurityHandler) Check(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}

	res, err := h.registry.RateLimit.Admit(ip, c.Query("endpoint"), c.Query("api_key"))
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListEvents returns recent security events, optionally filtered.
func (h *SecurityHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.registry.Events.Recent(c.Query("ip"), models.EventType(c.Query("type")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListEntries returns live IP list entries, optionally filtered by type.
func (h *SecurityHandler) ListEntries(c *gin.Context) {
	entries, err := h.registry.Lists.List(models.ListType(c.Query("type")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type ipActionRequest struct {
	IP     string `json:"ip" binding:"required"`
	Reason string `json:"reason"`
}

// Block blacklists an IP on operator action.
func (h *SecurityHandler) Block(c *gin.Context) {
	var req ipActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual block"
	}
	if err := h.registry.Escalation.Blacklist(req.IP, reason); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidIPAddress) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": req.IP, "list_type": models.ListTypeBlacklist})
}

// Unblock clears blacklist and temp_block entries for an IP.
func (h *SecurityHandler) Unblock(c *gin.Context) {
	var req ipActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}
	if err := h.registry.Escalation.Unblock(req.IP); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrIPListEntryNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": req.IP, "unblocked": true})
}

// Whitelist marks an IP as always allowed.
func (h *SecurityHandler) Whitelist(c *gin.Context) {
	var req ipActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip is required"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator whitelist"
	}
	if err := h.registry.Lists.Upsert(req.IP, models.ListTypeWhitelist, reason, nil); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidIPAddress) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ip": req.IP, "list_type": models.ListTypeWhitelist})
}

// Stats aggregates detector and limiter statistics.
func (h *SecurityHandler) Stats(c *gin.Context) {
	ddosStats, err := h.registry.DDoS.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	abuseStats, err := h.registry.Abuse.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ddos": ddosStats, "abuse": abuseStats})
}

// ListNotifications returns operator notifications.
func (h *SecurityHandler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	unread := c.Query("unread") == "true"
	notifications, err := h.registry.Alerts.List(unread, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// MarkNotificationsRead marks one or all notifications as read.
func (h *SecurityHandler) MarkNotificationsRead(c *gin.Context) {
	id := c.Query("id")
	var err error
	if id == "" {
		err = h.registry.Alerts.MarkAllAsRead()
	} else {
		err = h.registry.Alerts.MarkAsRead(id)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
