package api

import (
	"net/http"
	"strconv"

	"wagateway/internal/config"
	"wagateway/internal/dispatcher"
	"wagateway/internal/middleware"
	"wagateway/internal/models"
	"wagateway/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MessageHandler struct {
	DB         *gorm.DB
	Config     *config.Config
	Dispatcher *dispatcher.Dispatcher
}

func NewMessageHandler(db *gorm.DB, cfg *config.Config, d *dispatcher.Dispatcher) *MessageHandler {
	return &MessageHandler{DB: db, Config: cfg, Dispatcher: d}
}

type SendMessageRequest struct {
	To       string        `json:"to" binding:"required"`
	Type     string        `json:"type"` // text (default), template, image, document
	Message  string        `json:"message"`
	Template string        `json:"template"`
	Language string        `json:"language"`
	Link     string        `json:"link"`
	Filename string        `json:"filename"`
	Caption  string        `json:"caption"`
	Params   []interface{} `json:"params"`
}

// SendMessage sends through the caller's default WhatsApp configuration.
// Provider failures are surfaced to the caller and fanned out as a
// message.failed event; successful sends emit message.sent.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	client := whatsapp.ForUser(h.DB, h.Config, userID)

	var message *models.Message
	var err error

	switch req.Type {
	case "", "text":
		if req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required for text sends"})
			return
		}
		message, err = client.SendText(req.To, req.Message)
	case "template":
		if req.Template == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "template is required for template sends"})
			return
		}
		message, err = client.SendTemplate(req.To, req.Template, req.Language, req.Params)
	case "image":
		if req.Link == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "link is required for image sends"})
			return
		}
		message, err = client.SendImage(req.To, req.Link, req.Caption)
	case "document":
		if req.Link == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "link is required for document sends"})
			return
		}
		message, err = client.SendDocument(req.To, req.Link, req.Filename, req.Caption)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported message type"})
		return
	}

	if err != nil {
		h.Dispatcher.DispatchMessageFailed(userID, gin.H{"to": req.To, "type": req.Type}, err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	h.Dispatcher.DispatchMessageSent(userID, message)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": message})
}

// GetMessages lists recent messages, newest first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	query := h.DB.Order("created_at DESC").Limit(limit)
	if direction := c.Query("direction"); direction != "" {
		query = query.Where("direction = ?", direction)
	}
	if phone := c.Query("phone"); phone != "" {
		query = query.Where("from_number = ? OR to_number = ?", phone, phone)
	}

	var messages []models.Message
	if err := query.Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

// MarkAsRead forwards a read receipt to the provider for an inbound message.
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message id"})
		return
	}

	var message models.Message
	if err := h.DB.First(&message, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if message.WaMessageID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message has no provider id"})
		return
	}

	client := whatsapp.ForUser(h.DB, h.Config, middleware.UserID(c))
	if err := client.MarkAsRead(*message.WaMessageID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
