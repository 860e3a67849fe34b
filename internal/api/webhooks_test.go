package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wagateway/internal/database"
	"wagateway/internal/dispatcher"
	"wagateway/internal/middleware"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// webhookTestEnv wires the webhook management routes behind a stub identity,
// the way the API key middleware would after authenticating.
func webhookTestEnv(t *testing.T) (*gin.Engine, *gorm.DB, *models.User, *dispatcher.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	user := models.User{Name: "Owner", Email: "owner@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("creating user: %v", err)
	}

	d := dispatcher.New(db, 1)
	t.Cleanup(d.Close)
	handler := NewWebhookHandler(db, d)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, user.ID)
	})
	r.GET("/api/webhooks", handler.GetWebhooks)
	r.POST("/api/webhooks", handler.CreateWebhook)
	r.GET("/api/webhooks/:id", handler.GetWebhook)
	r.PUT("/api/webhooks/:id", handler.UpdateWebhook)
	r.DELETE("/api/webhooks/:id", handler.DeleteWebhook)
	r.POST("/api/webhooks/:id/regenerate-secret", handler.RegenerateSecret)
	r.GET("/api/webhooks/:id/logs", handler.GetLogs)
	r.POST("/api/webhooks/:id/test", handler.TestWebhook)
	return r, db, &user, d
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateWebhookReturnsSecretOnce(t *testing.T) {
	r, db, user, _ := webhookTestEnv(t)

	w := doJSON(r, http.MethodPost, "/api/webhooks",
		`{"name": "crm sync", "url": "https://example.com/hook", "events": ["message.received", "*"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	var created struct {
		Data struct {
			ID     uint     `json:"id"`
			Secret string   `json:"secret"`
			Events []string `json:"events"`
		} `json:"data"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.HasPrefix(created.Data.Secret, "whsec_") {
		t.Errorf("secret = %q, want whsec_ prefix", created.Data.Secret)
	}
	if created.Warning == "" {
		t.Error("one-time secret warning missing")
	}

	// The secret never appears in reads after creation.
	w = doJSON(r, http.MethodGet, fmt.Sprintf("/api/webhooks/%d", created.Data.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), created.Data.Secret) {
		t.Error("secret leaked by GET")
	}

	var stored models.ClientWebhook
	db.First(&stored, created.Data.ID)
	if stored.UserID != user.ID {
		t.Errorf("webhook owner = %d, want %d", stored.UserID, user.ID)
	}
	if stored.Secret != created.Data.Secret {
		t.Error("stored secret differs from the one returned")
	}
}

func TestCreateWebhookRejectsUnknownEvent(t *testing.T) {
	r, _, _, _ := webhookTestEnv(t)

	w := doJSON(r, http.MethodPost, "/api/webhooks",
		`{"name": "bad", "url": "https://example.com/hook", "events": ["message.vanished"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateWebhookReactivationResetsFailures(t *testing.T) {
	r, db, user, _ := webhookTestEnv(t)

	webhook := models.ClientWebhook{
		UserID: user.ID, Name: "stale", URL: "https://example.com/hook",
		Secret: models.GenerateWebhookSecret(), Events: models.StringList{"*"},
		IsActive: false, FailureCount: 10,
	}
	db.Create(&webhook)

	w := doJSON(r, http.MethodPut, fmt.Sprintf("/api/webhooks/%d", webhook.ID), `{"is_active": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body = %s", w.Code, w.Body.String())
	}

	var reloaded models.ClientWebhook
	db.First(&reloaded, webhook.ID)
	if !reloaded.IsActive {
		t.Error("webhook not reactivated")
	}
	if reloaded.FailureCount != 0 {
		t.Errorf("failure_count = %d, want reset to 0", reloaded.FailureCount)
	}
}

func TestWebhookOwnershipEnforced(t *testing.T) {
	r, db, _, _ := webhookTestEnv(t)

	other := models.User{Name: "Other", Email: "other@example.com"}
	db.Create(&other)
	foreign := models.ClientWebhook{
		UserID: other.ID, Name: "not yours", URL: "https://example.com/hook",
		Secret: models.GenerateWebhookSecret(), Events: models.StringList{"*"}, IsActive: true,
	}
	db.Create(&foreign)

	w := doJSON(r, http.MethodGet, fmt.Sprintf("/api/webhooks/%d", foreign.ID), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign get: status = %d, want 404", w.Code)
	}
	w = doJSON(r, http.MethodDelete, fmt.Sprintf("/api/webhooks/%d", foreign.ID), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign delete: status = %d, want 404", w.Code)
	}
}

func TestTestWebhookReportsOutcome(t *testing.T) {
	r, db, user, _ := webhookTestEnv(t)

	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(okSrv.Close)
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(failSrv.Close)

	healthy := models.ClientWebhook{
		UserID: user.ID, Name: "healthy", URL: okSrv.URL,
		Secret: models.GenerateWebhookSecret(), Events: models.StringList{"*"}, IsActive: true,
	}
	db.Create(&healthy)
	broken := models.ClientWebhook{
		UserID: user.ID, Name: "broken", URL: failSrv.URL,
		Secret: models.GenerateWebhookSecret(), Events: models.StringList{"*"}, IsActive: true,
	}
	db.Create(&broken)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/api/webhooks/%d/test", healthy.ID), "")
	if w.Code != http.StatusOK {
		t.Errorf("healthy test: status = %d, want 200", w.Code)
	}

	w = doJSON(r, http.MethodPost, fmt.Sprintf("/api/webhooks/%d/test", broken.ID), "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("broken test: status = %d, want 502", w.Code)
	}

	// Both attempts leave a log row.
	var logCount int64
	db.Model(&models.WebhookLog{}).Where("event = ?", "test").Count(&logCount)
	if logCount != 2 {
		t.Errorf("test log rows = %d, want 2", logCount)
	}
}

func TestGetLogsNewestFirst(t *testing.T) {
	r, db, user, _ := webhookTestEnv(t)

	webhook := models.ClientWebhook{
		UserID: user.ID, Name: "logged", URL: "https://example.com/hook",
		Secret: models.GenerateWebhookSecret(), Events: models.StringList{"*"}, IsActive: true,
	}
	db.Create(&webhook)
	for i := 0; i < 3; i++ {
		db.Create(&models.WebhookLog{ClientWebhookID: webhook.ID, Event: "message.received", Success: true})
	}

	w := doJSON(r, http.MethodGet, fmt.Sprintf("/api/webhooks/%d/logs?limit=2", webhook.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs: status = %d", w.Code)
	}
	var resp struct {
		Data []models.WebhookLog `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Errorf("log count = %d, want limit of 2", len(resp.Data))
	}
}
