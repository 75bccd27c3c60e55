package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inbox_backend/internal/events"
	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/internal/media"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/phone"

	"github.com/google/uuid"
)

var (
	// ErrMessageNotFound is returned for acks that reference no stored message
	// and cannot be synthesized.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnresolvedRecipient is returned when a self-originated ack names a
	// recipient that could not be resolved to a phone number.
	ErrUnresolvedRecipient = errors.New("unresolved privacy id")
)

// minLikeLength guards the substring ack lookup against short ids matching
// unrelated rows.
const minLikeLength = 8

// MediaStorer uploads message media and returns its storage locator.
type MediaStorer interface {
	Store(ctx context.Context, src media.Source) (media.Stored, error)
	Discard(ctx context.Context, ref string) error
}

type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeMediaPatched Outcome = "media_patched"
)

// IncomingMessage is a normalized message event ready for persistence.
type IncomingMessage struct {
	Instance    domain.Instance
	ExternalID  string
	ChatID      string
	Phone       phone.Canonical
	SenderName  string
	Direction   domain.Direction
	Type        domain.MessageType
	Content     string
	MediaURL    string
	MediaBase64 string
	MimeType    string
	FileName    string
	Quoted      *domain.QuotedMessage
	SentAt      time.Time
	// Status overrides the default status for the direction.
	Status domain.MessageStatus
}

func (in IncomingMessage) carriesMedia() bool {
	return in.Type.IsMedia()
}

// bringsMedia reports whether the event itself holds media, as opposed to a
// media type whose file would have to be fetched from the gateway.
func (in IncomingMessage) bringsMedia() bool {
	return in.Type.IsMedia() && (in.MediaURL != "" || in.MediaBase64 != "")
}

// IngestResult is the outcome of storing one message event.
type IngestResult struct {
	Outcome Outcome
	Message domain.Message
}

// Ack is a delivery or read receipt.
type Ack struct {
	Instance   domain.Instance
	ExternalID string
	Status     domain.MessageStatus
	FromMe     bool
	ChatID     string
	Type       domain.MessageType
	Content    string
	SentAt     time.Time
}

// RecipientResolver resolves the recipient of a self-originated ack. It is
// only called when a message has to be synthesized.
type RecipientResolver func(ctx context.Context) (phone.Canonical, bool)

type AckResult struct {
	Message     domain.Message
	Updated     bool
	Synthesized bool
}

// MessageService persists messages idempotently and applies receipts.
type MessageService struct {
	store         repository.Store
	leads         *LeadMatcher
	conversations *ConversationReconciler
	media         MediaStorer
	bus           events.Bus
	log           *logger.Logger
	now           func() time.Time
}

// NewMessageService wires the persister. mediaStorer may be nil, in which case
// media messages are stored without a media reference.
func NewMessageService(store repository.Store, leads *LeadMatcher, conversations *ConversationReconciler, mediaStorer MediaStorer, bus events.Bus, log *logger.Logger) *MessageService {
	return &MessageService{
		store:         store,
		leads:         leads,
		conversations: conversations,
		media:         mediaStorer,
		bus:           bus,
		log:           log.WithComponent("messages"),
		now:           time.Now,
	}
}

// CanonicalID splits a provider message id. Composite ids of the form
// direction_chat_shortid yield the trailing segment as short; plain ids are
// returned unchanged in both positions.
func CanonicalID(raw string) (short, full string) {
	full = strings.TrimSpace(raw)
	short = full
	if i := strings.LastIndexByte(full, '_'); i >= 0 && i < len(full)-1 {
		short = full[i+1:]
	}
	return short, full
}

// Ingest stores in exactly once per canonical id. A repeated delivery that
// brings media for a stored message without any patches the existing row.
func (s *MessageService) Ingest(ctx context.Context, in IncomingMessage) (IngestResult, error) {
	short, full := CanonicalID(in.ExternalID)
	if short == "" {
		return IngestResult{}, errors.New("ingest message: empty external id")
	}
	if in.SentAt.IsZero() {
		in.SentAt = s.now()
	}

	existing, err := s.findExisting(ctx, short, full, false)
	if err == nil {
		return s.duplicate(ctx, in, existing, nil)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return IngestResult{}, err
	}

	lead, _, err := s.leads.Match(ctx, MatchInput{
		Instance:    in.Instance,
		Phone:       in.Phone,
		ChatID:      in.ChatID,
		DisplayName: in.SenderName,
		Direction:   in.Direction,
		At:          in.SentAt,
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("match lead: %w", err)
	}

	instanceID := instanceRef(in.Instance)
	conv, err := s.conversations.Reconcile(ctx, lead, instanceID, in.Direction, in.SentAt)
	if err != nil {
		return IngestResult{}, fmt.Errorf("reconcile conversation: %w", err)
	}

	stored := s.storeMedia(ctx, in, lead.ID)

	params := repository.InsertMessageParams{
		TenantID:       lead.TenantID,
		ConversationID: conv.ID,
		LeadID:         lead.ID,
		InstanceID:     instanceID,
		Direction:      in.Direction,
		Type:           in.Type,
		Content:        in.Content,
		Status:         initialStatus(in),
		ExternalID:     short,
		RawExternalID:  full,
		Quoted:         in.Quoted,
		SenderName:     in.SenderName,
		SentAt:         in.SentAt,
	}
	if stored != nil {
		params.MediaRef = &stored.Ref
		params.MediaMimeType = &stored.MimeType
	}

	msg, created, err := repository.CreateOrFind(ctx,
		func(ctx context.Context) (domain.Message, error) {
			return s.store.InsertMessage(ctx, params)
		},
		func(ctx context.Context) (domain.Message, error) {
			return s.findExisting(ctx, short, full, false)
		},
	)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert message: %w", err)
	}
	if !created {
		return s.duplicate(ctx, in, msg, stored)
	}

	s.log.Info("messages: stored",
		slog.String("message_id", msg.ID.String()),
		slog.String("external_id", short),
		slog.String("direction", string(msg.Direction)),
		slog.String("type", string(msg.Type)),
		slog.Bool("has_media", msg.HasMedia()),
	)
	s.publish(ctx, events.MessageReceived{
		BaseEvent:      events.NewBaseEvent(),
		MessageID:      msg.ID,
		TenantID:       msg.TenantID,
		LeadID:         msg.LeadID,
		ConversationID: msg.ConversationID,
		InstanceID:     in.Instance.ID,
		Provider:       string(in.Instance.Provider),
		Direction:      string(msg.Direction),
		Type:           string(msg.Type),
		Content:        msg.Content,
		ExternalID:     msg.ExternalID,
		HasMedia:       msg.HasMedia(),
		SentAt:         msg.SentAt,
	})
	return IngestResult{Outcome: OutcomeCreated, Message: msg}, nil
}

// duplicate handles a delivery for a message that is already stored. Media
// is attached only when the stored row has none; stored, when set, is media
// this delivery already uploaded.
func (s *MessageService) duplicate(ctx context.Context, in IncomingMessage, existing domain.Message, stored *media.Stored) (IngestResult, error) {
	result := IngestResult{Outcome: OutcomeDuplicate, Message: existing}
	if existing.HasMedia() || (stored == nil && !in.bringsMedia()) {
		s.discardMedia(ctx, existing.ID, stored)
		return result, nil
	}

	if stored == nil {
		stored = s.storeMedia(ctx, in, existing.LeadID)
	}
	if stored == nil {
		return result, nil
	}

	patched, err := s.store.AttachMedia(ctx, existing.ID, stored.Ref, stored.MimeType)
	if err != nil {
		return IngestResult{}, fmt.Errorf("attach media: %w", err)
	}
	if !patched {
		s.discardMedia(ctx, existing.ID, stored)
		return result, nil
	}

	existing.MediaRef = &stored.Ref
	existing.MediaMimeType = &stored.MimeType
	s.log.Info("messages: media attached to existing message",
		slog.String("message_id", existing.ID.String()),
		slog.String("media_ref", stored.Ref),
	)
	s.publish(ctx, events.MessageMediaAttached{
		BaseEvent: events.NewBaseEvent(),
		MessageID: existing.ID,
		TenantID:  existing.TenantID,
		LeadID:    existing.LeadID,
		MediaRef:  stored.Ref,
		MimeType:  stored.MimeType,
	})
	return IngestResult{Outcome: OutcomeMediaPatched, Message: existing}, nil
}

// storeMedia runs the media pipeline and degrades to nil on any failure.
func (s *MessageService) storeMedia(ctx context.Context, in IncomingMessage, leadID uuid.UUID) *media.Stored {
	if s.media == nil || !in.carriesMedia() {
		return nil
	}
	got, err := s.media.Store(ctx, media.Source{
		Instance:  in.Instance,
		LeadID:    leadID,
		ChatID:    in.ChatID,
		MessageID: in.ExternalID,
		URL:       in.MediaURL,
		Base64:    in.MediaBase64,
		MimeType:  in.MimeType,
		FileName:  in.FileName,
	})
	if err != nil {
		s.log.Warn("messages: media unavailable, storing without it",
			slog.String("external_id", in.ExternalID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &got
}

// discardMedia removes an upload that no row references. Failures only leave
// an unreferenced object behind, so they are logged.
func (s *MessageService) discardMedia(ctx context.Context, messageID uuid.UUID, stored *media.Stored) {
	if stored == nil || s.media == nil {
		return
	}
	if err := s.media.Discard(ctx, stored.Ref); err != nil {
		s.log.Warn("messages: orphaned media left in storage",
			slog.String("message_id", messageID.String()),
			slog.String("media_ref", stored.Ref),
			slog.String("error", err.Error()),
		)
		return
	}
	s.log.Info("messages: discarded media for already attached message",
		slog.String("message_id", messageID.String()),
		slog.String("media_ref", stored.Ref),
	)
}

// ApplyAck advances the status of the message an ack refers to. Acks the
// business account sent for a message never seen before are turned into an
// outbound message; resolve supplies its recipient.
func (s *MessageService) ApplyAck(ctx context.Context, ack Ack, resolve RecipientResolver) (AckResult, error) {
	if ack.Status.Rank() == 0 {
		return AckResult{}, fmt.Errorf("apply ack: unsupported status %q", ack.Status)
	}
	short, full := CanonicalID(ack.ExternalID)
	if short == "" {
		return AckResult{}, errors.New("apply ack: empty external id")
	}

	msg, err := s.findExisting(ctx, short, full, true)
	switch {
	case err == nil:
		return s.advance(ctx, msg, ack.Status)
	case !errors.Is(err, repository.ErrNotFound):
		return AckResult{}, err
	case !ack.FromMe:
		return AckResult{}, ErrMessageNotFound
	}

	if resolve == nil {
		return AckResult{}, ErrUnresolvedRecipient
	}
	recipient, ok := resolve(ctx)
	if !ok || recipient.Digits == "" || recipient.Opaque {
		return AckResult{}, ErrUnresolvedRecipient
	}

	msgType := ack.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	res, err := s.Ingest(ctx, IncomingMessage{
		Instance:   ack.Instance,
		ExternalID: ack.ExternalID,
		ChatID:     ack.ChatID,
		Phone:      recipient,
		Direction:  domain.DirectionOutbound,
		Type:       msgType,
		Content:    ack.Content,
		SentAt:     ack.SentAt,
		Status:     ack.Status,
	})
	if err != nil {
		return AckResult{}, fmt.Errorf("synthesize message: %w", err)
	}
	if res.Outcome != OutcomeCreated {
		// The full event won the race; apply the ack to it instead.
		return s.advance(ctx, res.Message, ack.Status)
	}
	s.log.Info("messages: synthesized from ack",
		slog.String("message_id", res.Message.ID.String()),
		slog.String("status", string(ack.Status)),
	)
	return AckResult{Message: res.Message, Updated: true, Synthesized: true}, nil
}

func (s *MessageService) advance(ctx context.Context, msg domain.Message, status domain.MessageStatus) (AckResult, error) {
	updated, changed, err := s.store.AdvanceStatus(ctx, msg.ID, status)
	if err != nil {
		return AckResult{}, fmt.Errorf("advance status: %w", err)
	}
	if !changed {
		return AckResult{Message: updated}, nil
	}
	s.publish(ctx, events.MessageStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		MessageID:      updated.ID,
		TenantID:       updated.TenantID,
		ConversationID: updated.ConversationID,
		ExternalID:     updated.ExternalID,
		Status:         string(updated.Status),
	})
	return AckResult{Message: updated, Updated: true}, nil
}

// findExisting checks the short id, then the full composite id. With
// substring set, legacy rows containing a long enough short id match too.
func (s *MessageService) findExisting(ctx context.Context, short, full string, substring bool) (domain.Message, error) {
	msg, err := s.store.FindMessageByExternalID(ctx, short)
	if !errors.Is(err, repository.ErrNotFound) {
		return msg, wrapFind(err)
	}
	if full != short {
		msg, err = s.store.FindMessageByExternalID(ctx, full)
		if !errors.Is(err, repository.ErrNotFound) {
			return msg, wrapFind(err)
		}
	}
	if substring && len(short) >= minLikeLength {
		msg, err = s.store.FindMessageByExternalIDLike(ctx, short)
		if !errors.Is(err, repository.ErrNotFound) {
			return msg, wrapFind(err)
		}
	}
	return domain.Message{}, repository.ErrNotFound
}

func (s *MessageService) publish(ctx context.Context, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, event)
	}
}

func wrapFind(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("find message: %w", err)
}

func initialStatus(in IncomingMessage) domain.MessageStatus {
	if in.Status.Rank() > 0 {
		return in.Status
	}
	if in.Direction == domain.DirectionInbound {
		return domain.MessageStatusDelivered
	}
	return domain.MessageStatusSent
}

func instanceRef(inst domain.Instance) *uuid.UUID {
	if inst.ID == uuid.Nil {
		return nil
	}
	id := inst.ID
	return &id
}
