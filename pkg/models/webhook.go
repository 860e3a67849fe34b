package models

import "encoding/json"

// WebhookPayload represents the incoming JSON payload from WhatsApp.
// Unknown fields are ignored; unknown message types fall back to a default
// variant when processed.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// webhookEnvelope tolerates the two shapes the provider delivers: the entry
// list at the top level, or nested under a "data" key.
type webhookEnvelope struct {
	WebhookPayload
	Data *WebhookPayload `json:"data"`
}

// ParseWebhookPayload decodes a raw webhook body, unwrapping the optional
// top-level "data" nesting.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if len(env.Entry) == 0 && env.Data != nil {
		return env.Data, nil
	}
	return &env.WebhookPayload, nil
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

type ChangeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	// Messages are kept raw so each one can be decoded (and stored verbatim)
	// independently; one malformed message must not abort its siblings.
	Messages []json.RawMessage `json:"messages,omitempty"`
	Statuses []StatusUpdate    `json:"statuses,omitempty"`
}

// IncomingMessage represents one inbound message object
type IncomingMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // seconds since epoch
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Voice       *MediaMessage       `json:"voice,omitempty"`
	Sticker     *MediaMessage       `json:"sticker,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Location    *LocationMessage    `json:"location,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Button      *ButtonMessage      `json:"button,omitempty"`
	Reaction    *ReactionMessage    `json:"reaction,omitempty"`
}

// StatusUpdate reports a delivery-state change for an earlier message
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationMessage struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// InteractiveMessage represents an interactive message response (buttons, lists)
type InteractiveMessage struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ButtonMessage is a quick-reply button press on a template message
type ButtonMessage struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
}

type ReactionMessage struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}
