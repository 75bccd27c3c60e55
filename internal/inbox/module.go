// Package inbox provides the inbox bounded context: leads, conversations and
// messages reconciled from gateway webhooks.
package inbox

import (
	"time"

	"inbox_backend/internal/adapters/storage"
	"inbox_backend/internal/events"
	apphttp "inbox_backend/internal/http"
	"inbox_backend/internal/inbox/handler"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/internal/inbox/service"
	"inbox_backend/platform/logger"
)

// Deps are the collaborators the inbox services need beyond storage.
type Deps struct {
	// Contacts enriches leads with gateway names and pictures. Optional.
	Contacts service.ContactLookup
	// Media uploads message media. Optional.
	Media service.MediaStorer
	// Storage presigns media downloads. Optional.
	Storage       storage.StorageService
	EventBus      events.Bus
	LookupTimeout time.Duration
}

// Module is the inbox bounded context module implementing http.Module.
type Module struct {
	handler  *handler.Handler
	store    repository.Store
	messages *service.MessageService
}

// NewModule creates and initializes the inbox module.
func NewModule(store repository.Store, deps Deps, log *logger.Logger) *Module {
	leads := service.NewLeadMatcher(store, deps.Contacts, deps.EventBus, deps.LookupTimeout, log)
	conversations := service.NewConversationReconciler(store, log)
	messages := service.NewMessageService(store, leads, conversations, deps.Media, deps.EventBus, log)

	return &Module{
		handler:  handler.New(service.NewMediaLinks(store, deps.Storage)),
		store:    store,
		messages: messages,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "inbox"
}

// Messages returns the persister used by the webhook pipeline.
func (m *Module) Messages() *service.MessageService {
	return m.messages
}

// Instances returns the channel instance reader.
func (m *Module) Instances() repository.InstanceReader {
	return m.store
}

// RegisterRoutes mounts inbox routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/messages/:messageId/media-url", m.handler.GetMediaURL)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
