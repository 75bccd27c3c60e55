package repository

import (
	"context"

	"inbox_backend/internal/inbox/domain"

	"github.com/jackc/pgx/v5"
)

const instanceColumns = `id, tenant_id, provider, name, session_name, base_url, api_key, webhook_secret, is_active`

func scanInstance(row pgx.Row) (domain.Instance, error) {
	var inst domain.Instance
	var provider string
	err := row.Scan(&inst.ID, &inst.TenantID, &provider, &inst.Name, &inst.SessionName,
		&inst.BaseURL, &inst.APIKey, &inst.WebhookSecret, &inst.IsActive)
	inst.Provider = domain.Provider(provider)
	return inst, err
}

func (r *Repository) FindInstancesBySession(ctx context.Context, session string) ([]domain.Instance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM channel_instances
		WHERE is_active AND (lower(session_name) = lower($1) OR lower(name) = lower($1))
		ORDER BY created_at ASC
	`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Instance, 0, 1)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}

func (r *Repository) FindAnyActiveInstance(ctx context.Context, provider domain.Provider) (domain.Instance, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM channel_instances
		WHERE is_active AND ($1 = '' OR provider = $1)
		ORDER BY created_at ASC
		LIMIT 1
	`, string(provider))
	inst, err := scanInstance(row)
	return inst, mapErr(err)
}
