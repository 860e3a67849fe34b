package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"wagateway/internal/config"
	"wagateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const requestTimeout = 30 * time.Second

// Client wraps one tenant's WhatsApp Business (Graph) API credentials.
type Client struct {
	apiURL          string
	apiToken        string
	phoneID         string
	phoneNumber     string
	businessID      string
	configurationID *uint

	db   *gorm.DB
	http *http.Client
}

// NewClient builds a client from the deployment-level env credentials.
func NewClient(cfg *config.Config, db *gorm.DB) *Client {
	return &Client{
		apiURL:      cfg.WhatsAppAPIURL,
		apiToken:    cfg.WhatsAppToken,
		phoneID:     cfg.PhoneNumberID,
		phoneNumber: cfg.PhoneNumber,
		businessID:  cfg.WhatsAppBusinessAccountID,
		db:          db,
		http:        &http.Client{Timeout: requestTimeout},
	}
}

// ForConfiguration builds a client from a tenant's configuration row.
func ForConfiguration(wc *models.WhatsappConfiguration, db *gorm.DB) *Client {
	id := wc.ID
	return &Client{
		apiURL:          wc.APIURL,
		apiToken:        wc.APIToken,
		phoneID:         wc.PhoneID,
		phoneNumber:     wc.PhoneNumber,
		businessID:      wc.BusinessID,
		configurationID: &id,
		db:              db,
		http:            &http.Client{Timeout: requestTimeout},
	}
}

// ForUser picks the user's default active configuration, falling back to the
// env credentials when the user has none.
func ForUser(db *gorm.DB, cfg *config.Config, userID uint) *Client {
	wc, err := models.GetDefaultConfigurationForUser(db, userID)
	if err != nil {
		return NewClient(cfg, db)
	}
	return ForConfiguration(wc, db)
}

// --- Message structures (provider wire format) ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
	Status           string       `json:"status,omitempty"`
	MessageID        string       `json:"message_id,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type TemplateObj struct {
	Name       string        `json:"name"`
	Language   LanguageObj   `json:"language"`
	Components []interface{} `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// --- Messaging methods ---

func (c *Client) SendText(to, body string) (*models.Message, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               formatPhoneNumber(to),
		Type:             "text",
		Text:             &TextObj{Body: body},
	}
	return c.send(msg, body)
}

func (c *Client) SendTemplate(to, templateName, languageCode string, components []interface{}) (*models.Message, error) {
	if languageCode == "" {
		languageCode = "en"
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               formatPhoneNumber(to),
		Type:             "template",
		Template: &TemplateObj{
			Name:       templateName,
			Language:   LanguageObj{Code: languageCode},
			Components: components,
		},
	}
	return c.send(msg, "Template: "+templateName)
}

func (c *Client) SendImage(to, link, caption string) (*models.Message, error) {
	body := caption
	if body == "" {
		body = "Image Sent"
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               formatPhoneNumber(to),
		Type:             "image",
		Image:            &MediaObj{Link: link, Caption: caption},
	}
	return c.send(msg, body)
}

func (c *Client) SendDocument(to, link, filename, caption string) (*models.Message, error) {
	body := caption
	if body == "" {
		body = filename
	}
	if body == "" {
		body = "Document Sent"
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               formatPhoneNumber(to),
		Type:             "document",
		Document:         &MediaObj{Link: link, Filename: filename, Caption: caption},
	}
	return c.send(msg, body)
}

// MarkAsRead reports a read receipt for an inbound message.
func (c *Client) MarkAsRead(waMessageID string) error {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        waMessageID,
	}
	_, err := c.post(c.apiURL+c.phoneID+"/messages", msg)
	return err
}

// send posts one message and, on success, records the outbound Message row.
// Provider errors come back with the provider's error message so the API
// caller sees why the send failed.
func (c *Client) send(msg GenericMessage, renderedBody string) (*models.Message, error) {
	respBody, err := c.post(c.apiURL+c.phoneID+"/messages", msg)
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding provider response: %w", err)
	}

	waMessageID := "wamid." + uuid.NewString()
	if len(resp.Messages) > 0 && resp.Messages[0].ID != "" {
		waMessageID = resp.Messages[0].ID
	}

	var payload string
	if msg.Type != "text" {
		data, _ := json.Marshal(msg)
		payload = string(data)
	}

	now := time.Now()
	stored := models.Message{
		WhatsappConfigurationID: c.configurationID,
		WaMessageID:             &waMessageID,
		Direction:               "out",
		FromNumber:              "+" + c.phoneNumber,
		ToNumber:                msg.To,
		Type:                    msg.Type,
		Body:                    renderedBody,
		Payload:                 payload,
		Status:                  models.MessageStatusSent,
		SentAt:                  &now,
	}

	if err := c.db.Create(&stored).Error; err != nil {
		log.Printf("Error recording outbound message %s: %v", waMessageID, err)
	} else {
		log.Printf("WhatsApp message sent (wa_message_id %s)", waMessageID)
	}

	return &stored, nil
}

func (c *Client) post(url string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr sendResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			return respBody, fmt.Errorf("whatsapp API error: %s", apiErr.Error.Message)
		}
		return respBody, fmt.Errorf("whatsapp API error: %s", resp.Status)
	}

	return respBody, nil
}

func formatPhoneNumber(phone string) string {
	return strings.TrimPrefix(phone, "+")
}
