package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wagateway/internal/cache"
	"wagateway/internal/database"
	"wagateway/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

func newAuthedRouter(t *testing.T, db *gorm.DB, limiter cache.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", APIKeyAuth(db, limiter))
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	api.POST("/send", RequireScope("send_messages"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func createKey(t *testing.T, db *gorm.DB, scopes models.StringList, rateLimit int) (*models.User, *models.ApiKey) {
	t.Helper()
	user := models.User{Name: "Caller", Email: uuid.NewString() + "@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("creating user: %v", err)
	}
	key := models.ApiKey{
		UserID:    user.ID,
		Name:      "test key",
		Key:       models.GenerateAPIKey(),
		Scopes:    scopes,
		RateLimit: rateLimit,
		IsActive:  true,
	}
	if err := db.Create(&key).Error; err != nil {
		t.Fatalf("creating api key: %v", err)
	}
	return &user, &key
}

func TestAPIKeyAuthRejectsMissingAndInvalidKeys(t *testing.T) {
	db := setupTestDB(t)
	r := newAuthedRouter(t, db, cache.New(time.Minute))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", "wapi_nonexistent")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown key: status = %d, want 401", w.Code)
	}

	_, key := createKey(t, db, nil, 60)
	db.Model(key).Update("is_active", false)
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", key.Key)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("revoked key: status = %d, want 401", w.Code)
	}
}

func TestAPIKeyAuthAcceptsHeaderAndQuery(t *testing.T) {
	db := setupTestDB(t)
	r := newAuthedRouter(t, db, cache.New(time.Minute))
	_, key := createKey(t, db, nil, 60)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", key.Key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("header auth: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping?api_key="+key.Key, nil))
	if w.Code != http.StatusOK {
		t.Errorf("query auth: status = %d, want 200", w.Code)
	}

	var usageCount int64
	db.Model(&models.ApiKeyUsage{}).Where("api_key_id = ?", key.ID).Count(&usageCount)
	if usageCount != 2 {
		t.Errorf("usage rows = %d, want 2", usageCount)
	}

	var reloaded models.ApiKey
	db.First(&reloaded, key.ID)
	if reloaded.LastUsedAt == nil {
		t.Error("last_used_at not set")
	}
}

func TestAPIKeyAuthEnforcesRateLimit(t *testing.T) {
	db := setupTestDB(t)
	r := newAuthedRouter(t, db, cache.New(time.Minute))
	_, key := createKey(t, db, nil, 2)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.Header.Set("X-API-Key", key.Key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", key.Key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRequireScope(t *testing.T) {
	db := setupTestDB(t)
	r := newAuthedRouter(t, db, cache.New(time.Minute))

	_, readOnly := createKey(t, db, models.StringList{"read"}, 60)
	req := httptest.NewRequest(http.MethodPost, "/api/send", nil)
	req.Header.Set("X-API-Key", readOnly.Key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("read-only key on send: status = %d, want 403", w.Code)
	}

	// A key without explicit scopes gets the default grant.
	_, full := createKey(t, db, nil, 60)
	req = httptest.NewRequest(http.MethodPost, "/api/send", nil)
	req.Header.Set("X-API-Key", full.Key)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("default-scope key on send: status = %d, want 200", w.Code)
	}
}
