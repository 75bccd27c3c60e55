package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/internal/inbox/service"
	"inbox_backend/platform/apperr"
	"inbox_backend/platform/config"
	"inbox_backend/platform/logger"
	"inbox_backend/platform/phone"
	"inbox_backend/platform/validator"

	"github.com/google/uuid"
)

// MessagePersister stores message events and applies receipts. Satisfied by
// service.MessageService.
type MessagePersister interface {
	Ingest(ctx context.Context, in service.IncomingMessage) (service.IngestResult, error)
	ApplyAck(ctx context.Context, ack service.Ack, resolve service.RecipientResolver) (service.AckResult, error)
}

// Response is the body returned to the gateway for every understood event.
type Response struct {
	Success           bool        `json:"success"`
	Ignored           bool        `json:"ignored,omitempty"`
	Reason            string      `json:"reason,omitempty"`
	Duplicate         bool        `json:"duplicate,omitempty"`
	MediaPatched      bool        `json:"media_patched,omitempty"`
	ExistingMessageID *uuid.UUID  `json:"existing_message_id,omitempty"`
	Data              *ResultData `json:"data,omitempty"`
}

// ResultData identifies the rows an event was stored under.
type ResultData struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	LeadID         uuid.UUID `json:"lead_id"`
	Provider       string    `json:"provider"`
	ExternalID     string    `json:"external_id"`
	Status         string    `json:"status,omitempty"`
}

func ignored(reason string) Response {
	return Response{Success: true, Ignored: true, Reason: reason}
}

// messageRef holds the fields every message or ack must carry.
type messageRef struct {
	ID     string `validate:"required,max=512"`
	ChatID string `validate:"required,chatid,max=256"`
}

// Service runs webhook deliveries through filtering, identity resolution and
// persistence.
type Service struct {
	instances     repository.InstanceReader
	messages      MessagePersister
	identity      *IdentityResolver
	val           *validator.Validator
	signatureMode string
	log           *logger.Logger
}

// NewService creates a new webhook service.
func NewService(instances repository.InstanceReader, messages MessagePersister, identity *IdentityResolver, val *validator.Validator, cfg config.WebhookConfig, log *logger.Logger) *Service {
	mode := config.SignatureModeStrict
	if cfg != nil && cfg.GetWebhookSignatureMode() == config.SignatureModeLog {
		mode = config.SignatureModeLog
	}
	return &Service{
		instances:     instances,
		messages:      messages,
		identity:      identity,
		val:           val,
		signatureMode: mode,
		log:           log.WithComponent("webhook"),
	}
}

// Process handles one delivery. rawBody is the exact request body, used for
// signature verification. Evolution batches are processed in order and the
// result of the last element is returned.
//
// Items are decoded and filtered before the channel instance is looked up, so
// a delivery made only of ignorable events never touches the store and is not
// subject to the signature check.
func (s *Service) Process(ctx context.Context, rawBody []byte, header http.Header) (Response, error) {
	env, err := ParseEnvelope(rawBody)
	if err != nil {
		return Response{}, apperr.BadRequest(err.Error())
	}

	route := env.Route()
	if route == RouteIgnore {
		return ignored(ReasonEventNotHandled), nil
	}

	items, err := splitItems(env.Payload)
	if err != nil || len(items) == 0 {
		return Response{}, apperr.BadRequest(ErrUnknownEnvelope.Error())
	}

	prepared := make([]preparedItem, len(items))
	live := false
	for i, item := range items {
		if prepared[i], err = s.prepare(env, route, item); err != nil {
			return Response{}, err
		}
		live = live || prepared[i].early == nil
	}
	if !live {
		return *prepared[len(prepared)-1].early, nil
	}

	inst, err := s.resolveInstance(ctx, env)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("webhook: no channel instance",
			slog.String("session", env.Session),
			slog.String("provider", string(env.Dialect.Provider())),
		)
		return ignored(ReasonNoChannelInstance), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("resolve instance: %w", err)
	}

	if err := s.checkSignature(rawBody, header, inst); err != nil {
		return Response{}, err
	}

	var resp Response
	for _, p := range prepared {
		switch {
		case p.early != nil:
			resp = *p.early
		case p.ack != nil:
			resp, err = s.handleAck(ctx, inst, *p.ack)
		default:
			resp, err = s.handleMessage(ctx, inst, *p.msg, p.content)
		}
		if err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}

// preparedItem is one decoded element of a delivery. early is set when the
// element was ignored by the stateless checks.
type preparedItem struct {
	msg     *RawMessage
	content Extracted
	ack     *RawAck
	early   *Response
}

func (s *Service) prepare(env Envelope, route Route, item json.RawMessage) (preparedItem, error) {
	if route == RouteAck {
		return s.prepareAck(env, item)
	}
	return s.prepareMessage(env, item)
}

func (s *Service) prepareMessage(env Envelope, item json.RawMessage) (preparedItem, error) {
	var (
		msg RawMessage
		err error
	)
	if env.Dialect == DialectInstance {
		msg, err = decodeInstanceMessage(item)
	} else {
		msg, err = decodeSessionMessage(item)
	}
	if err != nil {
		return preparedItem{}, apperr.BadRequest(err.Error())
	}

	if reason := s.validateRef(msg.ID, msg.ChatID); reason != "" {
		return s.skip(reason, env, msg.ID), nil
	}
	if reason := FilterMessage(msg); reason != "" {
		return s.skip(reason, env, msg.ID), nil
	}
	content := Extract(msg)
	if content.IsSystemMessage {
		return s.skip(ReasonEmptyMessage, env, msg.ID), nil
	}
	return preparedItem{msg: &msg, content: content}, nil
}

func (s *Service) prepareAck(env Envelope, item json.RawMessage) (preparedItem, error) {
	var (
		raw RawAck
		err error
	)
	if env.Dialect == DialectInstance {
		raw, err = decodeInstanceAck(item)
	} else {
		raw, err = decodeSessionAck(item)
	}
	if err != nil {
		return preparedItem{}, apperr.BadRequest(err.Error())
	}

	if raw.Status == "" {
		s.log.Debug("webhook: ack ignored", slog.String("code", raw.Code), slog.String("external_id", raw.ID))
		resp := ignored(ReasonAckStatus)
		return preparedItem{early: &resp}, nil
	}
	if raw.ID == "" {
		return s.skip(ReasonMissingID, env, raw.ID), nil
	}
	if reason := FilterChat(raw.ChatID); reason != "" {
		return s.skip(reason, env, raw.ID), nil
	}
	return preparedItem{ack: &raw}, nil
}

func (s *Service) skip(reason string, env Envelope, externalID string) preparedItem {
	resp := s.ignore(reason, env.Session, externalID)
	return preparedItem{early: &resp}
}

// resolveInstance matches the reported session name, preferring the
// envelope's provider, then falls back to any active instance of that
// provider and finally to any active instance.
func (s *Service) resolveInstance(ctx context.Context, env Envelope) (domain.Instance, error) {
	provider := env.Dialect.Provider()
	if env.Session != "" {
		candidates, err := s.instances.FindInstancesBySession(ctx, env.Session)
		if err != nil {
			return domain.Instance{}, err
		}
		for _, inst := range candidates {
			if inst.Provider == provider {
				return inst, nil
			}
		}
		if len(candidates) > 0 {
			return candidates[0], nil
		}
	}

	inst, err := s.instances.FindAnyActiveInstance(ctx, provider)
	if !errors.Is(err, repository.ErrNotFound) {
		return inst, err
	}
	return s.instances.FindAnyActiveInstance(ctx, "")
}

func (s *Service) checkSignature(rawBody []byte, header http.Header, inst domain.Instance) error {
	ok, reason := VerifySignature(rawBody, inst.WebhookSecret, header)
	s.log.SignatureCheck(string(inst.Provider), inst.Name, ok, reason)
	if ok || s.signatureMode == config.SignatureModeLog {
		return nil
	}
	return apperr.Unauthorized("invalid webhook signature")
}

func (s *Service) handleMessage(ctx context.Context, inst domain.Instance, msg RawMessage, content Extracted) (Response, error) {
	direction := domain.DirectionInbound
	if msg.FromMe {
		direction = domain.DirectionOutbound
	}
	canonical, resolved := s.identity.Resolve(ctx, inst, msg.ChatID, msg.Alternates)
	if !resolved && direction == domain.DirectionOutbound {
		return s.ignore(ReasonUnresolved, inst.Name, msg.ID), nil
	}
	if canonical.Digits == "" {
		return s.ignore(ReasonMissingChat, inst.Name, msg.ID), nil
	}

	res, err := s.messages.Ingest(ctx, service.IncomingMessage{
		Instance:    inst,
		ExternalID:  msg.ID,
		ChatID:      msg.ChatID,
		Phone:       canonical,
		SenderName:  strings.TrimSpace(msg.PushName),
		Direction:   direction,
		Type:        content.Type,
		Content:     content.Content,
		MediaURL:    content.MediaURL,
		MediaBase64: content.MediaBase64,
		MimeType:    content.MimeType,
		FileName:    content.FileName,
		Quoted:      content.Quoted,
		SentAt:      msg.Timestamp,
	})
	if err != nil {
		return Response{}, err
	}
	return ingestResponse(res, inst), nil
}

func (s *Service) handleAck(ctx context.Context, inst domain.Instance, raw RawAck) (Response, error) {
	msgType := domain.MessageTypeText
	if t, ok := typeFromKeyword(strings.ToLower(raw.Type)); ok {
		msgType = t
	}
	content := ContentOf(raw.Body, raw.Caption)
	if msgType.IsMedia() {
		content = ContentOf(raw.Caption, raw.Body)
	}

	resolve := func(ctx context.Context) (phone.Canonical, bool) {
		if raw.ChatID == "" {
			return phone.Canonical{}, false
		}
		return s.identity.Resolve(ctx, inst, raw.ChatID, raw.Alternates)
	}
	res, err := s.messages.ApplyAck(ctx, service.Ack{
		Instance:   inst,
		ExternalID: raw.ID,
		Status:     raw.Status,
		FromMe:     raw.FromMe,
		ChatID:     raw.ChatID,
		Type:       msgType,
		Content:    content,
		SentAt:     raw.Timestamp,
	}, resolve)
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		return s.ignore(ReasonMessageNotFound, inst.Name, raw.ID), nil
	case errors.Is(err, service.ErrUnresolvedRecipient):
		return s.ignore(ReasonUnresolved, inst.Name, raw.ID), nil
	case err != nil:
		return Response{}, err
	}

	return Response{
		Success: true,
		Data:    resultData(res.Message, inst, string(res.Message.Status)),
	}, nil
}

func (s *Service) validateRef(id, chatID string) string {
	if strings.TrimSpace(id) == "" {
		return ReasonMissingID
	}
	if err := s.val.Struct(messageRef{ID: id, ChatID: chatID}); err != nil {
		return "invalid event: " + err.Error()
	}
	return ""
}

// ignore logs and answers an ignored event. instance is the channel instance
// name, or the reported session when the instance has not been resolved.
func (s *Service) ignore(reason, instance, externalID string) Response {
	s.log.Info("webhook: event ignored",
		slog.String("reason", reason),
		slog.String("instance", instance),
		slog.String("external_id", externalID),
	)
	return ignored(reason)
}

func ingestResponse(res service.IngestResult, inst domain.Instance) Response {
	switch res.Outcome {
	case service.OutcomeCreated:
		return Response{Success: true, Data: resultData(res.Message, inst, "")}
	default:
		id := res.Message.ID
		return Response{
			Success:           true,
			Duplicate:         true,
			MediaPatched:      res.Outcome == service.OutcomeMediaPatched,
			ExistingMessageID: &id,
		}
	}
}

func resultData(msg domain.Message, inst domain.Instance, status string) *ResultData {
	return &ResultData{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		LeadID:         msg.LeadID,
		Provider:       string(inst.Provider),
		ExternalID:     msg.ExternalID,
		Status:         status,
	}
}
