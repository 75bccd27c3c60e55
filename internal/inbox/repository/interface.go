package repository

import (
	"context"
	"time"

	"inbox_backend/internal/inbox/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// InstanceReader resolves which channel instance a webhook belongs to.
type InstanceReader interface {
	// FindInstancesBySession returns active instances whose session or display
	// name equals session, case-insensitively.
	FindInstancesBySession(ctx context.Context, session string) ([]domain.Instance, error)
	// FindAnyActiveInstance returns the oldest active instance, restricted to
	// provider when it is non-empty.
	FindAnyActiveInstance(ctx context.Context, provider domain.Provider) (domain.Instance, error)
}

// LeadStore finds and writes leads by phone.
type LeadStore interface {
	FindLeadsByPhones(ctx context.Context, tenantID uuid.UUID, phones []string) ([]domain.Lead, error)
	FindLeadsByPhoneSuffix(ctx context.Context, tenantID uuid.UUID, suffix string, limit int) ([]domain.Lead, error)
	FindLeadsBySuffixAndName(ctx context.Context, tenantID uuid.UUID, suffix, name string, limit int) ([]domain.Lead, error)
	// UpsertLead inserts a lead or refreshes the existing row for the same
	// (tenant, phone). created is false when the row already existed.
	UpsertLead(ctx context.Context, params UpsertLeadParams) (lead domain.Lead, created bool, err error)
	TouchLead(ctx context.Context, params TouchLeadParams) (domain.Lead, error)
}

// ConversationStore manages conversations scoped to (lead, instance).
type ConversationStore interface {
	// FindConversation returns the conversation for exactly (lead, instance),
	// preferring open or pending rows. A nil instance matches rows without one.
	FindConversation(ctx context.Context, leadID uuid.UUID, instanceID *uuid.UUID) (domain.Conversation, error)
	FindLatestConversationForLead(ctx context.Context, leadID uuid.UUID) (domain.Conversation, error)
	// InsertConversation returns ErrConflict when an open or pending row already
	// exists for the pair.
	InsertConversation(ctx context.Context, params InsertConversationParams) (domain.Conversation, error)
	ReopenConversation(ctx context.Context, id uuid.UUID, at time.Time) (domain.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageStore persists messages keyed by their canonical external id.
type MessageStore interface {
	FindMessageByExternalID(ctx context.Context, externalID string) (domain.Message, error)
	// FindMessageByExternalIDLike matches legacy rows whose stored id contains fragment.
	FindMessageByExternalIDLike(ctx context.Context, fragment string) (domain.Message, error)
	// InsertMessage returns ErrConflict when the external id is already stored.
	InsertMessage(ctx context.Context, params InsertMessageParams) (domain.Message, error)
	// AttachMedia sets the media reference only if none is set yet.
	AttachMedia(ctx context.Context, id uuid.UUID, mediaRef, mimeType string) (bool, error)
	// AdvanceStatus moves status forward; it never lowers the rank. updated
	// is false when the stored status was already equal or higher.
	AdvanceStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) (msg domain.Message, updated bool, err error)
	GetMessage(ctx context.Context, tenantID, id uuid.UUID) (domain.Message, error)
}

// Store is everything the ingestion pipeline needs from persistence.
type Store interface {
	InstanceReader
	LeadStore
	ConversationStore
	MessageStore
}

// =====================================
// Parameter types
// =====================================

type UpsertLeadParams struct {
	TenantID    uuid.UUID
	Phone       string
	CountryCode string
	Name        string
	AvatarURL   *string
	Source      string
	At          time.Time
}

// TouchLeadParams refreshes a matched lead. Name replaces the stored name when
// set; AvatarURL only fills an empty avatar.
type TouchLeadParams struct {
	LeadID    uuid.UUID
	At        time.Time
	Name      *string
	AvatarURL *string
}

type InsertConversationParams struct {
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	InstanceID *uuid.UUID
	At         time.Time
}

type InsertMessageParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	LeadID         uuid.UUID
	InstanceID     *uuid.UUID
	Direction      domain.Direction
	Type           domain.MessageType
	Content        string
	Status         domain.MessageStatus
	ExternalID     string
	RawExternalID  string
	MediaRef       *string
	MediaMimeType  *string
	Quoted         *domain.QuotedMessage
	SenderName     string
	SentAt         time.Time
}
