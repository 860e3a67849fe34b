package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StringList is a JSON-encoded list of strings stored in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
}

func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// User owns contacts, configurations, API keys and client webhooks
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Password  string    `gorm:"type:varchar(255)" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Contact represents a known correspondent
type Contact struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Name        string    `gorm:"type:varchar(255)" json:"name"`
	CountryCode string    `gorm:"type:varchar(10)" json:"country_code"`
	Phone       string    `gorm:"type:varchar(50);index" json:"phone"`
	Email       string    `gorm:"type:varchar(255)" json:"email"`
	FullPhone   string    `gorm:"type:varchar(60);index" json:"full_phone"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// ComputeFullPhone joins country code and phone with plus signs and leading
// zeros stripped, the form inbound sender numbers arrive in.
func (c *Contact) ComputeFullPhone() string {
	if c.Phone == "" {
		return ""
	}
	countryCode := strings.TrimLeft(c.CountryCode, "+")
	phone := strings.TrimLeft(strings.TrimPrefix(c.Phone, "+"), "0")
	return countryCode + phone
}

// BeforeSave keeps the derived full_phone column in sync so inbound sender
// resolution can use an indexed equality match instead of raw SQL string ops.
func (c *Contact) BeforeSave(tx *gorm.DB) error {
	c.FullPhone = c.ComputeFullPhone()
	return nil
}

// WhatsappData is the immutable capture of one inbound webhook call
type WhatsappData struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Body      string    `gorm:"type:text" json:"body"` // raw JSON payload
	Status    string    `gorm:"type:varchar(20);default:'received'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsappData) TableName() string {
	return "whatsapp_data"
}

// Message statuses reported by the provider
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Message is one unit of WhatsApp conversation
type Message struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	ContactID               *uint      `gorm:"index" json:"contact_id"`
	WhatsappConfigurationID *uint      `gorm:"index" json:"whatsapp_configuration_id"`
	WaMessageID             *string    `gorm:"type:varchar(255);uniqueIndex" json:"wa_message_id"`
	ConversationID          *string    `gorm:"type:varchar(255);index" json:"conversation_id"`
	Direction               string     `gorm:"type:varchar(3);not null" json:"direction"` // in / out
	FromNumber              string     `gorm:"type:varchar(50)" json:"from_number"`
	ToNumber                string     `gorm:"type:varchar(50)" json:"to_number"`
	Type                    string     `gorm:"type:varchar(20)" json:"type"`
	Body                    string     `gorm:"type:text" json:"body"`
	Payload                 string     `gorm:"type:text" json:"payload"` // full provider message object
	Status                  string     `gorm:"type:varchar(20)" json:"status"`
	SentAt                  *time.Time `json:"sent_at"`
	ReadAt                  *time.Time `json:"read_at"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ClientWebhook is a client-registered delivery target with its event filter
// and health state
type ClientWebhook struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	Name            string     `gorm:"type:varchar(255);not null" json:"name"`
	URL             string     `gorm:"type:varchar(500);not null" json:"url"`
	Secret          string     `gorm:"type:varchar(255);not null" json:"-"`
	Events          StringList `gorm:"type:text" json:"events"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	FailureCount    int        `gorm:"default:0" json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ClientWebhook) TableName() string {
	return "client_webhooks"
}

// ShouldTriggerFor reports whether a delivery should be attempted for the
// given event name. The wildcard "*" subscribes to everything.
func (w *ClientWebhook) ShouldTriggerFor(event string) bool {
	if !w.IsActive {
		return false
	}
	return w.Events.Contains(event) || w.Events.Contains("*")
}

// GenerateWebhookSecret returns a fresh subscription secret. It is shown to
// the client once, at creation time.
func GenerateWebhookSecret() string {
	return "whsec_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WebhookLog is the append-only record of one delivery attempt
type WebhookLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ClientWebhookID uint      `gorm:"index:idx_webhook_logs_webhook_created;not null" json:"client_webhook_id"`
	Event           string    `gorm:"type:varchar(50)" json:"event"`
	Payload         string    `gorm:"type:text" json:"payload"`
	StatusCode      *int      `json:"status_code"` // nil when the call never completed
	Response        string    `gorm:"type:text" json:"response"`
	ResponseTimeMs  int64     `json:"response_time_ms"`
	Success         bool      `json:"success"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_webhook_logs_webhook_created" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// WhatsappConfiguration holds one tenant's Graph API credentials
type WhatsappConfiguration struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Name        string    `gorm:"type:varchar(255)" json:"name"`
	APIURL      string    `gorm:"type:varchar(255)" json:"api_url"`
	APIToken    string    `gorm:"type:text" json:"-"`
	PhoneID     string    `gorm:"type:varchar(50)" json:"phone_id"`
	PhoneNumber string    `gorm:"type:varchar(50);index" json:"phone_number"`
	BusinessID  string    `gorm:"type:varchar(50)" json:"business_id"`
	VerifyToken string    `gorm:"type:varchar(255)" json:"-"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	IsDefault   bool      `gorm:"default:false" json:"is_default"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WhatsappConfiguration) TableName() string {
	return "whatsapp_configurations"
}

// GetDefaultConfigurationForUser prefers the active default configuration and
// falls back to any active one.
func GetDefaultConfigurationForUser(db *gorm.DB, userID uint) (*WhatsappConfiguration, error) {
	var cfg WhatsappConfiguration
	err := db.Where("user_id = ? AND is_active = ? AND is_default = ?", userID, true, true).First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if err := db.Where("user_id = ? AND is_active = ?", userID, true).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApiKey authenticates management API callers
type ApiKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	Name       string     `gorm:"type:varchar(255)" json:"name"`
	Key        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Scopes     StringList `gorm:"type:text" json:"scopes"`
	RateLimit  int        `gorm:"default:60" json:"rate_limit"` // requests per minute
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

func GenerateAPIKey() string {
	raw := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return "wapi_" + raw[:48]
}

func (k *ApiKey) IsValid() bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

func (k *ApiKey) HasScope(scope string) bool {
	scopes := k.Scopes
	if len(scopes) == 0 {
		scopes = StringList{"read", "write", "send_messages"}
	}
	return scopes.Contains(scope)
}

// ApiKeyUsage records one authenticated API call
type ApiKeyUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ApiKeyID       uint      `gorm:"index;not null" json:"api_key_id"`
	Endpoint       string    `gorm:"type:varchar(255)" json:"endpoint"`
	Method         string    `gorm:"type:varchar(10)" json:"method"`
	StatusCode     int       `json:"status_code"`
	IPAddress      string    `gorm:"type:varchar(45)" json:"ip_address"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ApiKeyUsage) TableName() string {
	return "api_key_usages"
}
