// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"inbox_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	Identified  = events.Identified
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Inbox Domain Events
// =============================================================================

// LeadCreated is published when a webhook creates a lead for an unknown identity.
type LeadCreated struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	TenantID    uuid.UUID `json:"tenantId"`
	InstanceID  uuid.UUID `json:"instanceId"`
	Phone       string    `json:"phone"`
	CountryCode string    `json:"countryCode"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
}

func (e LeadCreated) EventName() string { return "inbox.lead.created" }

// MessageReceived is published once per newly stored message, inbound or outbound.
type MessageReceived struct {
	BaseEvent
	MessageID      uuid.UUID `json:"messageId"`
	TenantID       uuid.UUID `json:"tenantId"`
	LeadID         uuid.UUID `json:"leadId"`
	ConversationID uuid.UUID `json:"conversationId"`
	InstanceID     uuid.UUID `json:"instanceId"`
	Provider       string    `json:"provider"`
	Direction      string    `json:"direction"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	ExternalID     string    `json:"externalId"`
	HasMedia       bool      `json:"hasMedia"`
	SentAt         time.Time `json:"sentAt"`
}

func (e MessageReceived) EventName() string { return "inbox.message.received" }

// MessageStatusChanged is published when an ack moves a message's status forward.
type MessageStatusChanged struct {
	BaseEvent
	MessageID      uuid.UUID `json:"messageId"`
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ExternalID     string    `json:"externalId"`
	Status         string    `json:"status"`
}

func (e MessageStatusChanged) EventName() string { return "inbox.message.status" }

// MessageMediaAttached is published when a late delivery patches media onto
// an existing message.
type MessageMediaAttached struct {
	BaseEvent
	MessageID uuid.UUID `json:"messageId"`
	TenantID  uuid.UUID `json:"tenantId"`
	LeadID    uuid.UUID `json:"leadId"`
	MediaRef  string    `json:"mediaRef"`
	MimeType  string    `json:"mimeType"`
}

func (e MessageMediaAttached) EventName() string { return "inbox.message.media_attached" }
