// Package notification fans inbox domain events out of the process: every
// event goes to the broker exchange and inbound messages are handed to the
// automation queue. Both sinks are optional and best-effort; the webhook has
// already answered by the time they run.
package notification

import (
	"context"
	"fmt"
	"time"

	"inbox_backend/internal/events"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/scheduler"
	"inbox_backend/platform/logger"
)

const (
	envelopeSource        = "inbox"
	defaultPublishTimeout = 5 * time.Second
)

// Module subscribes the configured sinks to the event bus.
type Module struct {
	publisher  Publisher
	automation scheduler.AutomationEnqueuer
	timeout    time.Duration
	log        *logger.Logger
}

// New creates the module. Either sink may be nil. timeout bounds each publish
// and enqueue.
func New(publisher Publisher, automation scheduler.AutomationEnqueuer, timeout time.Duration, log *logger.Logger) *Module {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Module{
		publisher:  publisher,
		automation: automation,
		timeout:    timeout,
		log:        log.WithComponent("notification"),
	}
}

// RegisterHandlers subscribes to the inbox events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	if m.publisher != nil {
		for _, name := range []string{
			events.LeadCreated{}.EventName(),
			events.MessageReceived{}.EventName(),
			events.MessageStatusChanged{}.EventName(),
			events.MessageMediaAttached{}.EventName(),
		} {
			bus.Subscribe(name, events.HandlerFunc(m.forward))
		}
	}
	if m.automation != nil {
		bus.Subscribe(events.MessageReceived{}.EventName(), events.HandlerFunc(m.handoff))
	}
	m.log.Info("notification handlers registered",
		"broker", m.publisher != nil, "automation", m.automation != nil)
}

// forward publishes the event under its own name as routing key.
func (m *Module) forward(ctx context.Context, event events.Event) error {
	env := Envelope{
		Meta: EnvelopeMeta{
			Type:       event.EventName(),
			Source:     envelopeSource,
			OccurredAt: event.OccurredAt(),
			TenantID:   tenantOf(event),
		},
		Data: event,
	}
	if identified, ok := event.(events.Identified); ok {
		env.Meta.ID = identified.ID().String()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, event.EventName(), env); err != nil {
		return fmt.Errorf("forward %s: %w", event.EventName(), err)
	}
	return nil
}

func (m *Module) handoff(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MessageReceived)
	if !ok || e.Direction != string(domain.DirectionInbound) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.automation.EnqueueMessageReceived(ctx, scheduler.MessageReceivedPayload{
		MessageID:      e.MessageID.String(),
		TenantID:       e.TenantID.String(),
		LeadID:         e.LeadID.String(),
		ConversationID: e.ConversationID.String(),
		InstanceID:     e.InstanceID.String(),
		Provider:       e.Provider,
		Type:           e.Type,
		Content:        e.Content,
		HasMedia:       e.HasMedia,
		SentAt:         e.SentAt,
	})
	if err != nil {
		return fmt.Errorf("enqueue automation for message %s: %w", e.MessageID, err)
	}
	return nil
}

func tenantOf(event events.Event) string {
	switch e := event.(type) {
	case events.LeadCreated:
		return e.TenantID.String()
	case events.MessageReceived:
		return e.TenantID.String()
	case events.MessageStatusChanged:
		return e.TenantID.String()
	case events.MessageMediaAttached:
		return e.TenantID.String()
	}
	return ""
}
