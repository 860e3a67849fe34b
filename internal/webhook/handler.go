package webhook

import (
	"log"
	"net/http"

	"wagateway/internal/config"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	Config    *config.Config
	DB        *gorm.DB
	Processor *Processor
}

func NewHandler(cfg *config.Config, db *gorm.DB, processor *Processor) *Handler {
	return &Handler{
		Config:    cfg,
		DB:        db,
		Processor: processor,
	}
}

// VerifyWebhook answers the provider's GET handshake. The challenge is echoed
// back only for mode=subscribe with a token matching either the deployment
// token or an active configuration's verify token.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && h.tokenMatches(token) {
		log.Println("Webhook verified successfully!")
		c.String(http.StatusOK, challenge)
		return
	}

	log.Printf("Webhook verification failed (mode %q)", mode)
	c.Status(http.StatusForbidden)
}

func (h *Handler) tokenMatches(token string) bool {
	if h.Config.VerifyToken != "" && token == h.Config.VerifyToken {
		return true
	}
	var count int64
	h.DB.Model(&models.WhatsappConfiguration{}).
		Where("verify_token = ? AND is_active = ?", token, true).
		Count(&count)
	return count > 0
}

// HandleMessage ingests one POST delivery. The response is always 200 so the
// provider never retries on our internal failures.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Error reading webhook body: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": StatusOK})
		return
	}

	status := h.Processor.HandleWebhook(body)
	c.JSON(http.StatusOK, gin.H{"status": status})
}
