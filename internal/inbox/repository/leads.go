package repository

import (
	"context"
	"strings"

	"inbox_backend/internal/inbox/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadColumns = `id, tenant_id, phone, country_code, name, avatar_url, source, last_interaction_at, created_at, updated_at`

func scanLead(row pgx.Row, extra ...any) (domain.Lead, error) {
	var l domain.Lead
	dest := append([]any{&l.ID, &l.TenantID, &l.Phone, &l.CountryCode, &l.Name, &l.AvatarURL,
		&l.Source, &l.LastInteractionAt, &l.CreatedAt, &l.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	return l, err
}

func (r *Repository) queryLeads(ctx context.Context, sql string, args ...any) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *Repository) FindLeadsByPhones(ctx context.Context, tenantID uuid.UUID, phones []string) ([]domain.Lead, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	// Order by position in the variant list so the caller's preference wins.
	return r.queryLeads(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND phone = ANY($2)
		ORDER BY array_position($2::text[], phone), created_at ASC
	`, tenantID, phones)
}

func (r *Repository) FindLeadsByPhoneSuffix(ctx context.Context, tenantID uuid.UUID, suffix string, limit int) ([]domain.Lead, error) {
	return r.queryLeads(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND reverse(phone) LIKE reverse($2) || '%'
		ORDER BY created_at ASC
		LIMIT $3
	`, tenantID, suffix, limit)
}

func (r *Repository) FindLeadsBySuffixAndName(ctx context.Context, tenantID uuid.UUID, suffix, name string, limit int) ([]domain.Lead, error) {
	return r.queryLeads(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1
		  AND reverse(phone) LIKE reverse($2) || '%'
		  AND name ILIKE '%' || $3 || '%'
		ORDER BY created_at ASC
		LIMIT $4
	`, tenantID, suffix, escapeLike(name), limit)
}

func (r *Repository) UpsertLead(ctx context.Context, p UpsertLeadParams) (domain.Lead, bool, error) {
	var created bool
	row := r.pool.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, phone, country_code, name, avatar_url, source, last_interaction_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, phone) DO UPDATE
		SET last_interaction_at = GREATEST(leads.last_interaction_at, EXCLUDED.last_interaction_at),
		    updated_at = now()
		RETURNING `+leadColumns+`, (xmax = 0)
	`, p.TenantID, p.Phone, p.CountryCode, p.Name, p.AvatarURL, p.Source, p.At)
	lead, err := scanLead(row, &created)
	if err != nil {
		return domain.Lead{}, false, mapErr(err)
	}
	return lead, created, nil
}

func (r *Repository) TouchLead(ctx context.Context, p TouchLeadParams) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE leads
		SET last_interaction_at = GREATEST(last_interaction_at, $2),
		    name = COALESCE($3, name),
		    avatar_url = COALESCE(avatar_url, $4),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns+`
	`, p.LeadID, p.At, p.Name, p.AvatarURL)
	lead, err := scanLead(row)
	return lead, mapErr(err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
