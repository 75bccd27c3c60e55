// Package webhook provides the gateway webhook ingress: dialect detection,
// filtering, identity resolution and hand-off to the inbox persister.
package webhook

import (
	apphttp "inbox_backend/internal/http"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/platform/config"
	"inbox_backend/platform/httpkit"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/validator"

	"golang.org/x/time/rate"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	cfg     config.WebhookConfig
	limiter *httpkit.IPRateLimiter
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(instances repository.InstanceReader, messages MessagePersister, identity *IdentityResolver, val *validator.Validator, cfg config.WebhookConfig, log *logger.Logger) *Module {
	service := NewService(instances, messages, identity, val, cfg, log)

	var limiter *httpkit.IPRateLimiter
	if cfg.GetWebhookRateLimitRPS() > 0 {
		limiter = httpkit.NewIPRateLimiter(rate.Limit(cfg.GetWebhookRateLimitRPS()), cfg.GetWebhookRateLimitBurst(), log)
	}

	return &Module{
		handler: NewHandler(service, log),
		cfg:     cfg,
		limiter: limiter,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public gateway endpoint (per-instance HMAC, no JWT)
	group := ctx.V1.Group("/webhooks")
	if m.limiter != nil {
		group.Use(m.limiter.RateLimit())
	}
	group.Use(httpkit.BodyLimit(m.cfg.GetWebhookMaxBodyBytes()))
	group.POST("/whatsapp", m.handler.HandleWhatsApp)
	group.POST("/whatsapp/:provider", m.handler.HandleWhatsApp)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
