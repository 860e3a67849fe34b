package webhook

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"wagateway/internal/cache"
	"wagateway/internal/models"
	pkgmodels "wagateway/pkg/models"

	"gorm.io/gorm"
)

// Ingest results reported back to the provider
const (
	StatusOK               = "ok"
	StatusDuplicateSkipped = "duplicate_skipped"
)

var supportedMessageStatuses = map[string]bool{
	models.MessageStatusSent:      true,
	models.MessageStatusDelivered: true,
	models.MessageStatusRead:      true,
	models.MessageStatusFailed:    true,
}

// EventNotifier receives domain events raised while processing inbound
// payloads. Implemented by the dispatcher; may be nil.
type EventNotifier interface {
	DispatchMessageReceived(userID uint, message *models.Message)
}

// Processor turns raw provider payloads into normalized message rows, exactly
// once per provider message id regardless of duplicate deliveries.
type Processor struct {
	db       *gorm.DB
	dedup    cache.Store
	resolver *ContactResolver
	notifier EventNotifier
}

func NewProcessor(db *gorm.DB, dedup cache.Store, notifier EventNotifier) *Processor {
	return &Processor{
		db:       db,
		dedup:    dedup,
		resolver: NewContactResolver(db),
		notifier: notifier,
	}
}

// HandleWebhook ingests one raw webhook body and reports the ingest status.
// It never returns an error: the provider always gets a success response so
// retries are not amplified.
func (p *Processor) HandleWebhook(rawBody []byte) string {
	sum := md5.Sum(rawBody)
	hash := hex.EncodeToString(sum[:])
	dedupKey := "webhook_processed_" + hash

	if p.dedup.Has(dedupKey) {
		log.Printf("Webhook duplicate skipped (hash %s)", hash)
		return StatusDuplicateSkipped
	}
	p.dedup.Put(dedupKey)

	record := models.WhatsappData{
		Body:   string(rawBody),
		Status: "received",
	}
	if err := p.db.Create(&record).Error; err != nil {
		log.Printf("Error storing webhook payload: %v", err)
		return StatusOK
	}

	payload, err := pkgmodels.ParseWebhookPayload(rawBody)
	if err != nil {
		log.Printf("Error parsing webhook payload %d: %v", record.ID, err)
		return StatusOK
	}

	p.processPayload(&record, payload)
	return StatusOK
}

// Reprocess re-runs parsing for an already-stored payload record, used by the
// reprocessing command for rows left in "received" by a crash or deploy.
func (p *Processor) Reprocess(record *models.WhatsappData) error {
	payload, err := pkgmodels.ParseWebhookPayload([]byte(record.Body))
	if err != nil {
		return err
	}
	p.processPayload(record, payload)
	return nil
}

// processPayload walks entry -> changes -> value in payload order. A payload
// with no entry list is a no-op and the raw record stays in "received".
func (p *Processor) processPayload(record *models.WhatsappData, payload *pkgmodels.WebhookPayload) {
	if len(payload.Entry) == 0 {
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			businessPhone := value.Metadata.DisplayPhoneNumber

			for _, raw := range value.Messages {
				var message pkgmodels.IncomingMessage
				if err := json.Unmarshal(raw, &message); err != nil {
					log.Printf("Error decoding inbound message: %v", err)
					continue
				}
				p.storeIncomingMessage(&message, raw, businessPhone)
			}

			for _, status := range value.Statuses {
				p.updateMessageStatus(&status)
			}
		}
	}

	if err := p.db.Model(record).Update("status", "processed").Error; err != nil {
		log.Printf("Error marking payload %d processed: %v", record.ID, err)
	}
}

func (p *Processor) storeIncomingMessage(message *pkgmodels.IncomingMessage, raw json.RawMessage, businessPhone string) {
	if message.ID == "" {
		log.Printf("Skipping inbound message without id (from %s)", message.From)
		return
	}

	var existing models.Message
	if err := p.db.Where("wa_message_id = ?", message.ID).First(&existing).Error; err == nil {
		log.Printf("Message already exists (wa_message_id %s)", message.ID)
		return
	}

	sentAt := time.Now()
	if message.Timestamp != "" {
		if epoch, err := strconv.ParseInt(message.Timestamp, 10, 64); err == nil {
			sentAt = time.Unix(epoch, 0)
		}
	}

	contact := p.resolver.FindByPhone(message.From)
	var contactID *uint
	if contact != nil {
		contactID = &contact.ID
	}

	var configurationID *uint
	var ownerID *uint
	if cfg := p.findConfigurationByPhone(businessPhone); cfg != nil {
		configurationID = &cfg.ID
		ownerID = &cfg.UserID
	}

	waID := message.ID
	stored := models.Message{
		ContactID:               contactID,
		WhatsappConfigurationID: configurationID,
		WaMessageID:             &waID,
		Direction:               "in",
		FromNumber:              message.From,
		ToNumber:                businessPhone,
		Type:                    mapMessageType(message.Type),
		Body:                    extractMessageBody(message),
		Payload:                 string(raw),
		Status:                  models.MessageStatusDelivered,
		SentAt:                  &sentAt,
	}

	if err := p.db.Create(&stored).Error; err != nil {
		// Concurrent delivery of the same message loses the race on the
		// wa_message_id unique index; that is the point of the index.
		log.Printf("Error storing message %s: %v", message.ID, err)
		return
	}

	log.Printf("Message stored (wa_message_id %s, type %s)", message.ID, message.Type)

	if p.notifier != nil && ownerID != nil {
		p.notifier.DispatchMessageReceived(*ownerID, &stored)
	}
}

// updateMessageStatus applies a provider status report. Unknown message ids
// are ignored: statuses routinely reference messages outside our retention.
func (p *Processor) updateMessageStatus(status *pkgmodels.StatusUpdate) {
	if status.ID == "" {
		return
	}

	var message models.Message
	if err := p.db.Where("wa_message_id = ?", status.ID).First(&message).Error; err != nil {
		return
	}

	if !supportedMessageStatuses[status.Status] {
		return
	}

	// Status never regresses from read back to sent/delivered; the provider
	// may deliver reports out of order.
	if message.Status == models.MessageStatusRead &&
		(status.Status == models.MessageStatusSent || status.Status == models.MessageStatusDelivered) {
		return
	}

	updates := map[string]interface{}{"status": status.Status}
	if status.Status == models.MessageStatusRead && message.ReadAt == nil {
		updates["read_at"] = time.Now()
	}

	if err := p.db.Model(&message).Updates(updates).Error; err != nil {
		log.Printf("Error updating message status %s: %v", status.ID, err)
		return
	}

	log.Printf("Message status updated (wa_message_id %s, status %s)", status.ID, status.Status)
}

func (p *Processor) findConfigurationByPhone(phone string) *models.WhatsappConfiguration {
	if phone == "" {
		return nil
	}
	clean := strings.TrimPrefix(phone, "+")
	var cfg models.WhatsappConfiguration
	err := p.db.Where("(phone_number = ? OR phone_number = ?) AND is_active = ?", clean, "+"+clean, true).
		First(&cfg).Error
	if err != nil {
		return nil
	}
	return &cfg
}

// mapMessageType maps provider message types onto the supported enum.
// Voice notes count as audio; anything exotic is stored as text.
func mapMessageType(messageType string) string {
	switch messageType {
	case "text", "image", "video", "audio", "document", "location", "template", "interactive":
		return messageType
	case "voice":
		return "audio"
	default:
		return "text"
	}
}

// extractMessageBody renders a human-readable body for each message type.
// Media without a caption gets a fixed placeholder, never an empty string.
func extractMessageBody(message *pkgmodels.IncomingMessage) string {
	switch message.Type {
	case "text":
		if message.Text != nil {
			return message.Text.Body
		}
		return ""
	case "image":
		if message.Image != nil && message.Image.Caption != "" {
			return "📷 " + message.Image.Caption
		}
		return "📷 Photo"
	case "video":
		if message.Video != nil && message.Video.Caption != "" {
			return "🎥 " + message.Video.Caption
		}
		return "🎥 Video"
	case "audio":
		return "🎵 Audio"
	case "voice":
		return "🎤 Voice Message"
	case "document":
		if message.Document != nil {
			if message.Document.Caption != "" {
				return "📄 " + message.Document.Caption
			}
			if message.Document.Filename != "" {
				return "📄 " + message.Document.Filename
			}
		}
		return "📄 Document"
	case "location":
		var lat, long string
		if message.Location != nil {
			lat = strconv.FormatFloat(message.Location.Latitude, 'f', -1, 64)
			long = strconv.FormatFloat(message.Location.Longitude, 'f', -1, 64)
		}
		return fmt.Sprintf("📍 Location (Lat: %s, Long: %s)", lat, long)
	case "interactive":
		if message.Interactive != nil {
			if message.Interactive.ListReply != nil {
				return "📋 " + message.Interactive.ListReply.Title
			}
			if message.Interactive.ButtonReply != nil {
				return "🔘 " + message.Interactive.ButtonReply.Title
			}
		}
		return "Interactive Message"
	case "button":
		if message.Button != nil && message.Button.Text != "" {
			return "🔘 " + message.Button.Text
		}
		return "🔘 Button"
	case "sticker":
		return "💟 Sticker"
	case "reaction":
		return "👍 Reaction"
	default:
		return "Message (" + message.Type + ")"
	}
}
