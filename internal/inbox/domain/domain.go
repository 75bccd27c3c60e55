// Package domain holds the inbox entities shared by the webhook pipeline and
// the storage layer.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Provider string

const (
	ProviderWAHA      Provider = "waha"
	ProviderEvolution Provider = "evolution"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
)

// IsMedia reports whether messages of type t carry a file.
func (t MessageType) IsMedia() bool {
	return t != MessageTypeText && t != ""
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses so that updates only move forward. Unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
)

// Instance is one configured gateway connection.
type Instance struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Provider      Provider
	Name          string
	SessionName   string
	BaseURL       string
	APIKey        string
	WebhookSecret string
	IsActive      bool
}

type Lead struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Phone             string
	CountryCode       string
	Name              string
	AvatarURL         *string
	Source            string
	LastInteractionAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PendingVerification reports whether the lead still carries a placeholder name.
func (l Lead) PendingVerification() bool {
	return IsPlaceholderName(l.Name)
}

type Conversation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	LeadID        uuid.UUID
	InstanceID    *uuid.UUID
	Status        ConversationStatus
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QuotedMessage is the snapshot of the message a reply refers to.
type QuotedMessage struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	From string `json:"from"`
	Type string `json:"type"`
}

type Message struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	LeadID         uuid.UUID
	InstanceID     *uuid.UUID
	Direction      Direction
	Type           MessageType
	Content        string
	Status         MessageStatus
	ExternalID     string
	RawExternalID  string
	MediaRef       *string
	MediaMimeType  *string
	Quoted         *QuotedMessage
	SenderName     string
	SentAt         time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasMedia reports whether a storage locator is attached.
func (m Message) HasMedia() bool {
	return m.MediaRef != nil && *m.MediaRef != ""
}

const placeholderPrefix = "WhatsApp +"

// PlaceholderName is the name given to leads created before the contact
// reported a display name.
func PlaceholderName(fullNumber string) string {
	return placeholderPrefix + fullNumber
}

// IsPlaceholderName reports whether name was generated rather than reported:
// empty, produced by PlaceholderName, or made only of phone digits and
// punctuation.
func IsPlaceholderName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, placeholderPrefix) {
		return true
	}
	for _, r := range name {
		if (r < '0' || r > '9') && !strings.ContainsRune("+-() .", r) {
			return false
		}
	}
	return true
}

// StorageLocator builds the internal media reference for an object.
func StorageLocator(bucket, key string) string {
	return fmt.Sprintf("storage://%s/%s", bucket, key)
}

// ParseStorageLocator splits a locator into bucket and key.
func ParseStorageLocator(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "storage://")
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
