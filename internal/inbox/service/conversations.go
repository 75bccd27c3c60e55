package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inbox_backend/internal/inbox/domain"
	"inbox_backend/internal/inbox/repository"
	"inbox_backend/platform/logger"

	"github.com/google/uuid"
)

// ConversationReconciler finds or opens the conversation a message belongs to.
type ConversationReconciler struct {
	store repository.ConversationStore
	log   *logger.Logger
}

func NewConversationReconciler(store repository.ConversationStore, log *logger.Logger) *ConversationReconciler {
	return &ConversationReconciler{store: store, log: log.WithComponent("conversations")}
}

// Reconcile returns the conversation for (lead, instance). Inbound messages
// reopen pending or resolved conversations; outbound ones only refresh the
// last message time. New conversations always carry the given instance.
func (r *ConversationReconciler) Reconcile(ctx context.Context, lead domain.Lead, instanceID *uuid.UUID, direction domain.Direction, at time.Time) (domain.Conversation, error) {
	conv, err := r.lookup(ctx, lead.ID, instanceID)
	switch {
	case err == nil:
		return r.update(ctx, conv, direction, at)
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}

	conv, created, err := repository.CreateOrFind(ctx,
		func(ctx context.Context) (domain.Conversation, error) {
			return r.store.InsertConversation(ctx, repository.InsertConversationParams{
				TenantID:   lead.TenantID,
				LeadID:     lead.ID,
				InstanceID: instanceID,
				At:         at,
			})
		},
		func(ctx context.Context) (domain.Conversation, error) {
			return r.store.FindConversation(ctx, lead.ID, instanceID)
		},
	)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if !created {
		return r.update(ctx, conv, direction, at)
	}
	r.log.Info("conversations: opened",
		slog.String("conversation_id", conv.ID.String()),
		slog.String("lead_id", lead.ID.String()),
	)
	return conv, nil
}

// lookup tries the exact (lead, instance) pair, then any conversation of the
// lead, which covers rows written before conversations carried an instance.
func (r *ConversationReconciler) lookup(ctx context.Context, leadID uuid.UUID, instanceID *uuid.UUID) (domain.Conversation, error) {
	conv, err := r.store.FindConversation(ctx, leadID, instanceID)
	if !errors.Is(err, repository.ErrNotFound) {
		return conv, err
	}
	return r.store.FindLatestConversationForLead(ctx, leadID)
}

func (r *ConversationReconciler) update(ctx context.Context, conv domain.Conversation, direction domain.Direction, at time.Time) (domain.Conversation, error) {
	if direction != domain.DirectionInbound || conv.Status == domain.ConversationOpen {
		if err := r.store.TouchConversation(ctx, conv.ID, at); err != nil {
			return domain.Conversation{}, fmt.Errorf("touch conversation: %w", err)
		}
		if at.After(conv.LastMessageAt) {
			conv.LastMessageAt = at
		}
		return conv, nil
	}

	reopened, err := r.store.ReopenConversation(ctx, conv.ID, at)
	if errors.Is(err, repository.ErrConflict) {
		// Another delivery opened a conversation for the pair first.
		active, ferr := r.store.FindConversation(ctx, conv.LeadID, conv.InstanceID)
		if ferr != nil {
			return domain.Conversation{}, fmt.Errorf("requery conversation: %w", ferr)
		}
		return r.update(ctx, active, direction, at)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("reopen conversation: %w", err)
	}
	r.log.Info("conversations: reopened",
		slog.String("conversation_id", conv.ID.String()),
		slog.String("previous_status", string(conv.Status)),
	)
	return reopened, nil
}
