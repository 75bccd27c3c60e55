package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/inboxtest"
	"inbox_backend/internal/inbox/service"
	"inbox_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRouter(h *Handler, tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextTenantIDKey, tenantID)
		c.Next()
	})
	r.GET("/api/v1/messages/:messageId/media-url", h.GetMediaURL)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetMediaURL(t *testing.T) {
	store := inboxtest.New()
	objects := storage.NewMemoryService(1 << 20)
	tenantID := uuid.New()

	key := "leads/" + uuid.NewString() + "/1700000000000.jpg"
	if err := objects.PutObject(t.Context(), "inbox-media", key, "image/jpeg", strings.NewReader("jpeg"), 4); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	ref := domain.StorageLocator("inbox-media", key)
	withMedia := store.InsertRawMessage(domain.Message{TenantID: tenantID, ExternalID: "A", MediaRef: &ref})
	textOnly := store.InsertRawMessage(domain.Message{TenantID: tenantID, ExternalID: "B"})

	r := newRouter(New(service.NewMediaLinks(store, objects)), tenantID)

	rec := get(r, "/api/v1/messages/"+withMedia.ID.String()+"/media-url")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "memory://inbox-media/"+key) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	if rec := get(r, "/api/v1/messages/"+textOnly.ID.String()+"/media-url"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for message without media, got %d", rec.Code)
	}
	if rec := get(r, "/api/v1/messages/not-a-uuid/media-url"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	other := newRouter(New(service.NewMediaLinks(store, objects)), uuid.New())
	if rec := get(other, "/api/v1/messages/"+withMedia.ID.String()+"/media-url"); rec.Code != http.StatusNotFound {
		t.Fatalf("messages of another tenant must not be visible, got %d", rec.Code)
	}
}

func TestGetMediaURLWithoutStorage(t *testing.T) {
	r := newRouter(New(service.NewMediaLinks(inboxtest.New(), nil)), uuid.New())
	if rec := get(r, "/api/v1/messages/"+uuid.NewString()+"/media-url"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
