// Package repository stores activations, the settings document and run
// history in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"activation_backend/internal/activations/domain"
	"activation_backend/internal/activations/ports"
	"activation_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const activationNotFoundMessage = "activation not found"

// Repo implements the activation store and run recorder with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new activations repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time checks that Repo implements the ports.
var (
	_ ports.ActivationStore = (*Repo)(nil)
	_ ports.RunRecorder     = (*Repo)(nil)
)

var orderColumns = map[ports.OrderBy]string{
	ports.OrderByFirstProspecting: "first_prospecting_activity",
	ports.OrderByActivatedDate:    "activated_date",
	ports.OrderByUpdatedAt:        "updated_at",
}

// LoadActive retrieves every activation that is not Unresponsive.
func (r *Repo) LoadActive(ctx context.Context, orderBy ports.OrderBy) ([]*domain.Activation, error) {
	column, ok := orderColumns[orderBy]
	if !ok {
		if orderBy != "" {
			return nil, apperr.BadRequest(fmt.Sprintf("invalid activation order %q", orderBy))
		}
		column = orderColumns[ports.OrderByFirstProspecting]
	}
	query := `SELECT ` + activationColumns + `
		FROM activations
		WHERE status <> $1
		ORDER BY ` + column + ` ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, string(domain.StatusUnresponsive))
	if err != nil {
		return nil, fmt.Errorf("load active activations: %w", err)
	}
	defer rows.Close()
	return scanActivations(rows)
}

// LoadUnresponsive retrieves every Unresponsive activation.
func (r *Repo) LoadUnresponsive(ctx context.Context) ([]*domain.Activation, error) {
	query := `SELECT ` + activationColumns + `
		FROM activations
		WHERE status = $1
		ORDER BY first_prospecting_activity ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, string(domain.StatusUnresponsive))
	if err != nil {
		return nil, fmt.Errorf("load unresponsive activations: %w", err)
	}
	defer rows.Close()
	return scanActivations(rows)
}

// GetByID retrieves one activation.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE id = $1`

	var row activationRow
	if err := r.pool.QueryRow(ctx, query, id).Scan(row.targets()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(activationNotFoundMessage)
		}
		return nil, fmt.Errorf("get activation by id: %w", err)
	}
	return decodeActivation(row)
}

// List retrieves a page of activations, most recently updated first.
func (r *Repo) List(ctx context.Context, params ports.ListParams) ([]*domain.Activation, int, error) {
	var statusParam interface{}
	if params.Status != nil {
		statusParam = string(*params.Status)
	}
	var accountParam interface{}
	if params.AccountID != "" {
		accountParam = params.AccountID
	}

	query := `SELECT ` + activationColumns + `, COUNT(*) OVER() AS total
		FROM activations
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR account_id = $2)
		ORDER BY updated_at DESC, id ASC
		LIMIT $3 OFFSET $4`

	rows, err := r.pool.Query(ctx, query, statusParam, accountParam, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Activation
	total := 0
	for rows.Next() {
		var row activationRow
		if err := rows.Scan(append(row.targets(), &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan activation: %w", err)
		}
		a, err := decodeActivation(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list activations: %w", err)
	}
	return out, total, nil
}

const upsertActivationSQL = `
	INSERT INTO activations (` + activationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	ON CONFLICT (id) DO UPDATE SET
		account_id = EXCLUDED.account_id,
		account_name = EXCLUDED.account_name,
		account_owner_id = EXCLUDED.account_owner_id,
		activated_by = EXCLUDED.activated_by,
		status = EXCLUDED.status,
		activated_date = EXCLUDED.activated_date,
		engaged_date = EXCLUDED.engaged_date,
		first_prospecting_activity = EXCLUDED.first_prospecting_activity,
		last_prospecting_activity = EXCLUDED.last_prospecting_activity,
		days_activated = EXCLUDED.days_activated,
		days_engaged = EXCLUDED.days_engaged,
		active_contact_ids = EXCLUDED.active_contact_ids,
		task_ids = EXCLUDED.task_ids,
		event_ids = EXCLUDED.event_ids,
		opportunity = EXCLUDED.opportunity,
		prospecting_metadata = EXCLUDED.prospecting_metadata,
		prospecting_effort = EXCLUDED.prospecting_effort,
		updated_at = EXCLUDED.updated_at
	RETURNING (xmax = 0) AS inserted`

// Upsert writes all activations in one transaction. Rows are keyed by activation ID.
func (r *Repo) Upsert(ctx context.Context, activations []*domain.Activation) (ports.UpsertResult, error) {
	var result ports.UpsertResult
	if len(activations) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for _, a := range activations {
		row, err := encodeActivation(a)
		if err != nil {
			return result, fmt.Errorf("encode activation %s: %w", a.ID, err)
		}
		batch.Queue(upsertActivationSQL, row.args()...)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for _, a := range activations {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			_ = br.Close()
			return ports.UpsertResult{}, fmt.Errorf("upsert activation %s: %w", a.ID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return ports.UpsertResult{}, fmt.Errorf("upsert activations: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ports.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

// LoadSettings returns the settings document, or the defaults when none was saved.
func (r *Repo) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT settings FROM activation_settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, fmt.Errorf("load activation settings: %w", err)
	}
	settings := domain.DefaultSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.Settings{}, apperr.Wrap(apperr.KindSchema, "decode activation settings", err)
	}
	return settings, nil
}

// SaveSettings replaces the settings document.
func (r *Repo) SaveSettings(ctx context.Context, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode activation settings: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO activation_settings (id, settings, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()`, raw)
	if err != nil {
		return fmt.Errorf("save activation settings: %w", err)
	}
	return nil
}

func scanActivations(rows pgx.Rows) ([]*domain.Activation, error) {
	var out []*domain.Activation
	for rows.Next() {
		var row activationRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		a, err := decodeActivation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
