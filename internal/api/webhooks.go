package api

import (
	"net/http"
	"strconv"
	"time"

	"wagateway/internal/dispatcher"
	"wagateway/internal/middleware"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const secretWarning = "Save this secret now! It will not be shown again."

var allowedWebhookEvents = map[string]bool{
	"message.received": true,
	"message.sent":     true,
	"message.failed":   true,
	"contact.created":  true,
	"contact.updated":  true,
	"*":                true,
}

type WebhookHandler struct {
	DB         *gorm.DB
	Dispatcher *dispatcher.Dispatcher
}

func NewWebhookHandler(db *gorm.DB, d *dispatcher.Dispatcher) *WebhookHandler {
	return &WebhookHandler{DB: db, Dispatcher: d}
}

func (h *WebhookHandler) findOwned(c *gin.Context) (*models.ClientWebhook, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook id"})
		return nil, false
	}
	var webhook models.ClientWebhook
	err = h.DB.Where("id = ? AND user_id = ?", id, middleware.UserID(c)).First(&webhook).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Webhook not found"})
		return nil, false
	}
	return &webhook, true
}

func validateEvents(events []string) bool {
	if len(events) == 0 {
		return false
	}
	for _, event := range events {
		if !allowedWebhookEvents[event] {
			return false
		}
	}
	return true
}

func (h *WebhookHandler) GetWebhooks(c *gin.Context) {
	var webhooks []models.ClientWebhook
	err := h.DB.Where("user_id = ?", middleware.UserID(c)).
		Order("created_at DESC").Find(&webhooks).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if webhooks == nil {
		webhooks = []models.ClientWebhook{}
	}
	c.JSON(http.StatusOK, gin.H{"data": webhooks})
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validateEvents(req.Events) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported event name"})
		return
	}

	secret := models.GenerateWebhookSecret()
	webhook := models.ClientWebhook{
		UserID:   middleware.UserID(c),
		Name:     req.Name,
		URL:      req.URL,
		Secret:   secret,
		Events:   models.StringList(req.Events),
		IsActive: true,
	}
	if err := h.DB.Create(&webhook).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Webhook created successfully",
		"data": gin.H{
			"id":     webhook.ID,
			"name":   webhook.Name,
			"url":    webhook.URL,
			"secret": secret,
			"events": webhook.Events,
		},
		"warning": secretWarning,
	})
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": webhook})
}

type UpdateWebhookRequest struct {
	Name     *string  `json:"name"`
	URL      *string  `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.URL != nil {
		updates["url"] = *req.URL
	}
	if req.Events != nil {
		if !validateEvents(req.Events) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported event name"})
			return
		}
		updates["events"] = models.StringList(req.Events)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
		// Explicit reactivation gives the endpoint a clean slate.
		if *req.IsActive {
			updates["failure_count"] = 0
		}
	}

	if err := h.DB.Model(webhook).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Webhook updated successfully",
		"data":    webhook,
	})
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(webhook).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted successfully"})
}

func (h *WebhookHandler) RegenerateSecret(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}
	secret := models.GenerateWebhookSecret()
	if err := h.DB.Model(webhook).Update("secret", secret).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to regenerate secret"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Webhook secret regenerated successfully",
		"data":    gin.H{"secret": secret},
		"warning": secretWarning,
	})
}

func (h *WebhookHandler) GetLogs(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	var logs []models.WebhookLog
	err = h.DB.Where("client_webhook_id = ?", webhook.ID).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.WebhookLog{}
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// TestWebhook performs a synchronous delivery of a synthetic "test" event and
// surfaces the outcome directly, unlike domain-event dispatch.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	webhook, ok := h.findOwned(c)
	if !ok {
		return
	}

	entry := h.Dispatcher.Trigger(webhook, "test", dispatcher.Envelope{
		Event:     "test",
		Message:   "This is a test webhook delivery",
		Timestamp: time.Now().Format(time.RFC3339),
	})

	message := "Test webhook delivery failed"
	status := http.StatusBadGateway
	if entry.Success {
		message = "Test webhook delivered successfully"
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"message": message,
		"data": gin.H{
			"status_code":      entry.StatusCode,
			"response_time_ms": entry.ResponseTimeMs,
			"success":          entry.Success,
		},
	})
}
