package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"wagateway/internal/cache"
	"wagateway/internal/config"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	cfg := &config.Config{VerifyToken: "env-token"}
	processor := NewProcessor(db, cache.New(10*time.Minute), nil)
	handler := NewHandler(cfg, db, processor)

	r := gin.New()
	r.GET("/webhook", handler.VerifyWebhook)
	r.POST("/webhook", handler.HandleMessage)
	return r, handler
}

func verifyRequest(mode, token, challenge string) *http.Request {
	q := url.Values{}
	q.Set("hub.mode", mode)
	q.Set("hub.verify_token", token)
	q.Set("hub.challenge", challenge)
	return httptest.NewRequest(http.MethodGet, "/webhook?"+q.Encode(), nil)
}

func TestVerifyWebhookEchoesChallenge(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("subscribe", "env-token", "challenge-123"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "challenge-123" {
		t.Errorf("body = %q, want the challenge echoed", w.Body.String())
	}
}

func TestVerifyWebhookRejectsBadToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("subscribe", "wrong-token", "challenge-123"))
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token: status = %d, want 403", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("unsubscribe", "env-token", "challenge-123"))
	if w.Code != http.StatusForbidden {
		t.Errorf("bad mode: status = %d, want 403", w.Code)
	}
}

func TestVerifyWebhookAcceptsConfigurationToken(t *testing.T) {
	r, handler := newTestRouter(t)

	user := models.User{Name: "Tenant", Email: "tenant-verify@example.com"}
	handler.DB.Create(&user)
	handler.DB.Create(&models.WhatsappConfiguration{
		UserID:      user.ID,
		Name:        "main",
		PhoneNumber: "25779000002",
		VerifyToken: "tenant-token",
		IsActive:    true,
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, verifyRequest("subscribe", "tenant-token", "ch"))
	if w.Code != http.StatusOK {
		t.Errorf("configuration token: status = %d, want 200", w.Code)
	}
}

func TestHandleMessageAlwaysReturns200(t *testing.T) {
	r, _ := newTestRouter(t)

	body := textMessagePayload("wamid.H1", "25779000001", "25779000002", "hello", 1700000000)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != StatusOK {
		t.Errorf("status field = %q, want %q", resp["status"], StatusOK)
	}

	// Redelivery of the same body reports the skip but still answers 200.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != StatusDuplicateSkipped {
		t.Errorf("duplicate status field = %q, want %q", resp["status"], StatusDuplicateSkipped)
	}

	// Garbage bodies are stored for later inspection, never bounced.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json")))
	if w.Code != http.StatusOK {
		t.Errorf("garbage body status = %d, want 200", w.Code)
	}
}
