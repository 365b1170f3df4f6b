package handler

import (
	"net/http"
	"time"

	"tvcast/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminNotificationHandler struct {
	notifSvc *service.NotificationService
}

func NewAdminNotificationHandler(notifSvc *service.NotificationService) *AdminNotificationHandler {
	return &AdminNotificationHandler{notifSvc: notifSvc}
}

// Send handles POST /admin/notifications. targetUsers null (or absent) addresses every user.
func (h *AdminNotificationHandler) Send(c *gin.Context) {
	var req struct {
		Title       string     `json:"title"`
		Message     string     `json:"message"`
		Type        string     `json:"type"`
		TargetUsers []uint     `json:"targetUsers"`
		ScheduledAt *time.Time `json:"scheduledAt"`
		SendPush    *bool      `json:"sendPush"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.notifSvc.Send(c.Request.Context(), service.SendRequest{
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		TargetUsers: req.TargetUsers,
		ScheduledAt: req.ScheduledAt,
		SendPush:    req.SendPush,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Scheduled {
		c.JSON(http.StatusAccepted, gin.H{
			"notification": res.Notification,
			"scheduled":    true,
			"scheduledAt":  res.Notification.ScheduledAt,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": res.Notification, "stats": res.Stats})
}

// SendStatusBar handles POST /admin/notifications/status-bar.
func (h *AdminNotificationHandler) SendStatusBar(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Message     string `json:"message"`
		Priority    string `json:"priority"`
		TargetUsers []uint `json:"targetUsers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.notifSvc.SendStatusBar(c.Request.Context(), service.StatusBarRequest{
		Title:       req.Title,
		Message:     req.Message,
		Priority:    req.Priority,
		TargetUsers: req.TargetUsers,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notification": res.Notification, "stats": res.Stats})
}

func (h *AdminNotificationHandler) Stats(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	stats, err := h.notifSvc.Stats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
