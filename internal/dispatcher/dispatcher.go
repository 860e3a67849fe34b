package dispatcher

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"wagateway/internal/models"

	"gorm.io/gorm"
)

const (
	// A subscription is disabled after this many consecutive failures.
	disableThreshold = 10

	deliveryTimeout  = 10 * time.Second
	maxResponseChars = 1000
	queueSize        = 256
)

// Envelope is the JSON body posted to client webhook endpoints.
type Envelope struct {
	Event     string      `json:"event"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type job struct {
	webhook models.ClientWebhook
	event   string
	payload Envelope
}

// Dispatcher fans domain events out to client-registered webhook endpoints.
// Deliveries run on a worker pool so the triggering request never waits on a
// subscriber, and failures never propagate to the caller.
type Dispatcher struct {
	db     *gorm.DB
	client *http.Client
	jobs   chan job
	wg     sync.WaitGroup
}

func New(db *gorm.DB, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		db:     db,
		client: &http.Client{Timeout: deliveryTimeout},
		jobs:   make(chan job, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.Trigger(&j.webhook, j.event, j.payload)
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

// Dispatch notifies every matching active subscription of the user. Delivery
// is asynchronous; a full queue drops the delivery with a log line.
func (d *Dispatcher) Dispatch(userID uint, event string, payload Envelope) {
	var webhooks []models.ClientWebhook
	err := d.db.Where("user_id = ? AND is_active = ?", userID, true).Find(&webhooks).Error
	if err != nil {
		log.Printf("Error loading client webhooks for user %d: %v", userID, err)
		return
	}

	for _, webhook := range webhooks {
		if !webhook.ShouldTriggerFor(event) {
			continue
		}
		select {
		case d.jobs <- job{webhook: webhook, event: event, payload: payload}:
		default:
			log.Printf("Webhook queue full, dropping %s delivery for webhook %d", event, webhook.ID)
		}
	}
}

// Trigger performs one synchronous delivery and records its log. Used by the
// workers and, directly, by the management API's test endpoint.
func (d *Dispatcher) Trigger(webhook *models.ClientWebhook, event string, payload Envelope) models.WebhookLog {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error encoding webhook payload for %d: %v", webhook.ID, err)
		body = []byte("{}")
	}

	signature := Sign(body, webhook.Secret)
	start := time.Now()

	entry := models.WebhookLog{
		ClientWebhookID: webhook.ID,
		Event:           event,
		Payload:         string(body),
	}

	req, err := http.NewRequest(http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		entry.Response = err.Error()
		entry.ResponseTimeMs = time.Since(start).Milliseconds()
		d.recordResult(webhook, &entry)
		return entry
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", event)

	resp, err := d.client.Do(req)
	entry.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		// Transport failure: no status code, the error text is the response.
		entry.Response = err.Error()
		d.recordResult(webhook, &entry)
		return entry
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseChars+1))
	statusCode := resp.StatusCode
	entry.StatusCode = &statusCode
	entry.Response = truncate(string(respBody), maxResponseChars)
	entry.Success = statusCode >= 200 && statusCode < 300

	d.recordResult(webhook, &entry)
	return entry
}

func (d *Dispatcher) recordResult(webhook *models.ClientWebhook, entry *models.WebhookLog) {
	if err := d.db.Create(entry).Error; err != nil {
		log.Printf("Error storing webhook log for %d: %v", webhook.ID, err)
	}

	if entry.Success {
		now := time.Now()
		err := d.db.Model(webhook).Updates(map[string]interface{}{
			"last_triggered_at": now,
			"failure_count":     0,
		}).Error
		if err != nil {
			log.Printf("Error resetting failure count for webhook %d: %v", webhook.ID, err)
		}
		return
	}

	// Counter increments happen at the storage layer; concurrent deliveries
	// to the same subscription must not lose updates.
	err := d.db.Model(&models.ClientWebhook{}).
		Where("id = ?", webhook.ID).
		UpdateColumn("failure_count", gorm.Expr("failure_count + 1")).Error
	if err != nil {
		log.Printf("Error incrementing failure count for webhook %d: %v", webhook.ID, err)
		return
	}

	res := d.db.Model(&models.ClientWebhook{}).
		Where("id = ? AND failure_count >= ?", webhook.ID, disableThreshold).
		Update("is_active", false)
	if res.Error != nil {
		log.Printf("Error disabling webhook %d: %v", webhook.ID, res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("Webhook %d disabled after %d consecutive failures", webhook.ID, disableThreshold)
	}
}

// Sign computes the hex HMAC-SHA256 signature carried in X-Webhook-Signature.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets subscribers (and tests) validate a delivery.
func VerifySignature(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func newEnvelope(event string, data interface{}) Envelope {
	return Envelope{
		Event:     event,
		Timestamp: time.Now().Format(time.RFC3339),
		Data:      data,
	}
}

func (d *Dispatcher) DispatchMessageReceived(userID uint, message *models.Message) {
	d.Dispatch(userID, "message.received", newEnvelope("message.received", message))
}

func (d *Dispatcher) DispatchMessageSent(userID uint, message *models.Message) {
	d.Dispatch(userID, "message.sent", newEnvelope("message.sent", message))
}

func (d *Dispatcher) DispatchMessageFailed(userID uint, data interface{}, errText string) {
	envelope := newEnvelope("message.failed", data)
	envelope.Error = errText
	d.Dispatch(userID, "message.failed", envelope)
}

func (d *Dispatcher) DispatchContactCreated(userID uint, contact *models.Contact) {
	d.Dispatch(userID, "contact.created", newEnvelope("contact.created", contact))
}

func (d *Dispatcher) DispatchContactUpdated(userID uint, contact *models.Contact) {
	d.Dispatch(userID, "contact.updated", newEnvelope("contact.updated", contact))
}
