package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "inbox_backend/internal/http"
	"inbox_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string        { return ":0" }
func (testConfig) GetCORSAllowAll() bool      { return true }
func (testConfig) GetCORSOrigins() []string   { return nil }
func (testConfig) GetCORSAllowCreds() bool    { return false }
func (testConfig) GetJWTAccessSecret() string { return "secret" }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type echoModule struct{}

func (echoModule) Name() string { return "echo" }

func (echoModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/echo", func(c *gin.Context) { c.String(http.StatusOK, "open") })
	ctx.Protected.GET("/secret", func(c *gin.Context) { c.String(http.StatusOK, "closed") })
}

func serve(t *testing.T, app *apphttp.App, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := New(app)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	app := &apphttp.App{Config: testConfig{}, Logger: logger.Nop(), Health: pinger{}}
	if rec := serve(t, app, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if rec := serve(t, app, "/api/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	app.Health = pinger{err: errors.New("db down")}
	if rec := serve(t, app, "/api/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with failing db = %d, want 503", rec.Code)
	}
}

func TestModuleRoutesMountUnderV1(t *testing.T) {
	app := &apphttp.App{Config: testConfig{}, Logger: logger.Nop(), Modules: []apphttp.Module{echoModule{}}}

	rec := serve(t, app, "/api/v1/echo")
	if rec.Code != http.StatusOK || rec.Body.String() != "open" {
		t.Fatalf("open route = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(t, app, "/api/v1/secret"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("protected route without token = %d, want 401", rec.Code)
	}
	if rec := serve(t, app, "/api/health"); rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}
