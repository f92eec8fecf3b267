package sla

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/db"
)

var (
	ErrNotFound     = errors.New("sla: policy not found")
	ErrInvalidInput = errors.New("sla: invalid input")
	// ErrInUse is returned when deleting a policy disputes still reference.
	ErrInUse = errors.New("sla: policy in use")
)

const pgForeignKeyViolation = "23503"

const policyColumns = `id::text, organization_id::text, name, resolution_hours, escalation_hours, is_default, created_at, updated_at`

// Queries reads policies through any DBTX, including a caller's transaction.
type Queries struct {
	db db.DBTX
}

func NewQueries(q db.DBTX) *Queries {
	return &Queries{db: q}
}

// Get returns the policy id owned by orgID. Policies of other
// organizations are reported as ErrNotFound.
func (q *Queries) Get(ctx context.Context, orgID, id string) (Policy, error) {
	if !db.ValidUUID(id) || !db.ValidUUID(orgID) {
		return Policy{}, ErrNotFound
	}
	row := q.db.QueryRow(ctx, `SELECT `+policyColumns+` FROM sla_policies WHERE id = $1 AND organization_id = $2`, id, orgID)
	return scanPolicy(row)
}

// Default returns the organization's default policy or ErrNotFound.
func (q *Queries) Default(ctx context.Context, orgID string) (Policy, error) {
	if !db.ValidUUID(orgID) {
		return Policy{}, ErrNotFound
	}
	row := q.db.QueryRow(ctx, `SELECT `+policyColumns+` FROM sla_policies WHERE organization_id = $1 AND is_default`, orgID)
	return scanPolicy(row)
}

func (q *Queries) List(ctx context.Context, orgID string) ([]Policy, error) {
	if !db.ValidUUID(orgID) {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `SELECT `+policyColumns+` FROM sla_policies WHERE organization_id = $1 ORDER BY name ASC, id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("sla: list: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sla: iterate: %w", err)
	}
	return out, nil
}

// PGStore is the pool-backed Store. Writes that change the default flag
// run in their own transaction.
type PGStore struct {
	*Queries
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Queries: NewQueries(pool), pool: pool}
}

func (s *PGStore) Create(ctx context.Context, p Policy) (Policy, error) {
	return s.write(ctx, p, func(tx pgx.Tx) pgx.Row {
		return tx.QueryRow(ctx, `
			INSERT INTO sla_policies (id, organization_id, name, resolution_hours, escalation_hours, is_default)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+policyColumns,
			p.ID, p.OrganizationID, p.Name, p.ResolutionHours, p.EscalationHours, p.IsDefault)
	})
}

func (s *PGStore) Update(ctx context.Context, p Policy) (Policy, error) {
	if !db.ValidUUID(p.ID) {
		return Policy{}, ErrNotFound
	}
	return s.write(ctx, p, func(tx pgx.Tx) pgx.Row {
		return tx.QueryRow(ctx, `
			UPDATE sla_policies
			SET name = $3, resolution_hours = $4, escalation_hours = $5, is_default = $6, updated_at = now()
			WHERE id = $1 AND organization_id = $2
			RETURNING `+policyColumns,
			p.ID, p.OrganizationID, p.Name, p.ResolutionHours, p.EscalationHours, p.IsDefault)
	})
}

func (s *PGStore) write(ctx context.Context, p Policy, stmt func(pgx.Tx) pgx.Row) (Policy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("sla: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE sla_policies SET is_default = false, updated_at = now() WHERE organization_id = $1 AND is_default AND id <> $2`, p.OrganizationID, p.ID); err != nil {
			return Policy{}, fmt.Errorf("sla: clear default: %w", err)
		}
	}

	saved, err := scanPolicy(stmt(tx))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Policy{}, ErrNotFound
		}
		return Policy{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Policy{}, fmt.Errorf("sla: commit: %w", err)
	}
	return saved, nil
}

func (s *PGStore) Delete(ctx context.Context, orgID, id string) error {
	if !db.ValidUUID(id) || !db.ValidUUID(orgID) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM sla_policies WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrInUse
		}
		return fmt.Errorf("sla: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.ResolutionHours, &p.EscalationHours, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, fmt.Errorf("sla: scan policy: %w", err)
	}
	return p, nil
}
