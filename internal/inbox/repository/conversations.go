package repository

import (
	"context"
	"time"

	"inbox_backend/internal/inbox/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, tenant_id, lead_id, instance_id, status, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.InstanceID, &status, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	c.Status = domain.ConversationStatus(status)
	return c, mapErr(err)
}

func (r *Repository) FindConversation(ctx context.Context, leadID uuid.UUID, instanceID *uuid.UUID) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE lead_id = $1 AND instance_id IS NOT DISTINCT FROM $2
		ORDER BY (status IN ('open', 'pending')) DESC, updated_at DESC
		LIMIT 1
	`, leadID, instanceID))
}

func (r *Repository) FindLatestConversationForLead(ctx context.Context, leadID uuid.UUID) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE lead_id = $1
		ORDER BY (status IN ('open', 'pending')) DESC, updated_at DESC
		LIMIT 1
	`, leadID))
}

func (r *Repository) InsertConversation(ctx context.Context, p InsertConversationParams) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, lead_id, instance_id, status, last_message_at)
		VALUES ($1, $2, $3, 'open', $4)
		RETURNING `+conversationColumns+`
	`, p.TenantID, p.LeadID, p.InstanceID, p.At))
}

func (r *Repository) ReopenConversation(ctx context.Context, id uuid.UUID, at time.Time) (domain.Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, `
		UPDATE conversations
		SET status = 'open',
		    last_message_at = GREATEST(last_message_at, $2),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+conversationColumns+`
	`, id, at))
}

func (r *Repository) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2), updated_at = now()
		WHERE id = $1
	`, id, at)
	return err
}
