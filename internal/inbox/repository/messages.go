package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"inbox_backend/internal/inbox/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, tenant_id, conversation_id, lead_id, instance_id, direction, type, content, status,
	external_id, raw_external_id, media_ref, media_mime_type, quoted, sender_name, sent_at, created_at, updated_at`

// statusRankSQL mirrors domain.MessageStatus.Rank.
const statusRankSQL = `CASE %s WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var direction, msgType, status string
	var quoted []byte
	err := row.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.LeadID, &m.InstanceID, &direction, &msgType,
		&m.Content, &status, &m.ExternalID, &m.RawExternalID, &m.MediaRef, &m.MediaMimeType, &quoted,
		&m.SenderName, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Message{}, mapErr(err)
	}
	m.Direction = domain.Direction(direction)
	m.Type = domain.MessageType(msgType)
	m.Status = domain.MessageStatus(status)
	if len(quoted) > 0 {
		var q domain.QuotedMessage
		if err := json.Unmarshal(quoted, &q); err != nil {
			return domain.Message{}, fmt.Errorf("decode quoted message: %w", err)
		}
		m.Quoted = &q
	}
	return m, nil
}

func (r *Repository) FindMessageByExternalID(ctx context.Context, externalID string) (domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE external_id = $1
	`, externalID))
}

func (r *Repository) FindMessageByExternalIDLike(ctx context.Context, fragment string) (domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE external_id LIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT 1
	`, escapeLike(fragment)))
}

// InsertMessage relies on ON CONFLICT DO NOTHING: a duplicate returns no row,
// which is reported as ErrConflict so callers can requery.
func (r *Repository) InsertMessage(ctx context.Context, p InsertMessageParams) (domain.Message, error) {
	var quoted []byte
	if p.Quoted != nil {
		encoded, err := json.Marshal(p.Quoted)
		if err != nil {
			return domain.Message{}, fmt.Errorf("encode quoted message: %w", err)
		}
		quoted = encoded
	}

	msg, err := scanMessage(r.pool.QueryRow(ctx, `
		INSERT INTO messages (tenant_id, conversation_id, lead_id, instance_id, direction, type, content, status,
			external_id, raw_external_id, media_ref, media_mime_type, quoted, sender_name, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+messageColumns+`
	`, p.TenantID, p.ConversationID, p.LeadID, p.InstanceID, string(p.Direction), string(p.Type), p.Content,
		string(p.Status), p.ExternalID, p.RawExternalID, p.MediaRef, p.MediaMimeType, quoted, p.SenderName, p.SentAt))
	if errors.Is(err, ErrNotFound) {
		return domain.Message{}, ErrConflict
	}
	return msg, err
}

func (r *Repository) AttachMedia(ctx context.Context, id uuid.UUID, mediaRef, mimeType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET media_ref = $2, media_mime_type = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND media_ref IS NULL
	`, id, mediaRef, mimeType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) AdvanceStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) (domain.Message, bool, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, `
		UPDATE messages
		SET status = $2, updated_at = now()
		WHERE id = $1 AND `+fmt.Sprintf(statusRankSQL, "status")+` < `+fmt.Sprintf(statusRankSQL, "$2::text")+`
		RETURNING `+messageColumns+`
	`, id, string(status)))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Message{}, false, err
	}

	// Either the row is gone or its status already ranks higher.
	msg, err = scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	return msg, false, err
}

func (r *Repository) GetMessage(ctx context.Context, tenantID, id uuid.UUID) (domain.Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
}
