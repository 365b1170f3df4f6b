package handler

import (
	"net/http"
	"strconv"

	"tvcast/internal/domain"
	"tvcast/internal/middleware"
	"tvcast/internal/service"

	"github.com/gin-gonic/gin"
)

// NotificationHandler serves the caller's own notifications.
type NotificationHandler struct {
	notifSvc *service.NotificationService
	tracker  *service.ReadClickTracker
}

func NewNotificationHandler(notifSvc *service.NotificationService, tracker *service.ReadClickTracker) *NotificationHandler {
	return &NotificationHandler{notifSvc: notifSvc, tracker: tracker}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.notifSvc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.tracker.UnreadCount(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles PUT /me/notifications/:id/read. A repeat is reported via alreadyRead.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	res, err := h.tracker.MarkRead(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": res.Record, "alreadyRead": res.Already})
}

func (h *NotificationHandler) MarkClicked(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	res, err := h.tracker.MarkClicked(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": res.Record, "alreadyClicked": res.Already})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.tracker.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// RegisterDeviceToken handles POST /me/device-token.
func (h *NotificationHandler) RegisterDeviceToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if err := h.notifSvc.RegisterDeviceToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func notificationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, domain.Validation("parse id", "invalid notification id"))
		return 0, false
	}
	return uint(id), true
}
