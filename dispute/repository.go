package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/audit"
	"disputeflow/db"
	"disputeflow/org"
	"disputeflow/sla"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgForeignKeyViolation  = "23503"
)

const disputeColumns = `d.id::text, d.organization_id::text, d.created_by::text, d.assigned_to::text,
	d.external_reference, d.reason, d.amount::text, d.currency, d.status, d.sla_policy_id::text,
	d.sla_deadline, d.created_at, d.updated_at`

// PGStore implements Store on a pgx pool with pessimistic row locks.
type PGStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPGStore builds a store whose transactions give up waiting for a row
// lock after lockTimeout. Zero keeps the server default.
func NewPGStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PGStore {
	return &PGStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return classify("set lock timeout", err)
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify("tx", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, orgID, id string) (Dispute, error) {
	if !db.ValidUUID(id) || !db.ValidUUID(orgID) {
		return Dispute{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes d WHERE d.id = $1 AND d.organization_id = $2`, id, orgID)
	return scanDispute(row)
}

func (s *PGStore) List(ctx context.Context, orgID string, f Filter, now time.Time) ([]Dispute, error) {
	if !db.ValidUUID(orgID) {
		return nil, nil
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes d WHERE d.organization_id = $1`
	args := []any{orgID}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND d.status = $%d", len(args))
	}
	if f.SLAOverdue != nil {
		args = append(args, now)
		if *f.SLAOverdue {
			query += fmt.Sprintf(" AND d.sla_deadline < $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND d.sla_deadline >= $%d", len(args))
		}
	}
	if f.AssigneeID != "" {
		if !db.ValidUUID(f.AssigneeID) {
			return nil, nil
		}
		args = append(args, f.AssigneeID)
		query += fmt.Sprintf(" AND d.assigned_to = $%d", len(args))
	}
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY d.created_at DESC, d.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) History(ctx context.Context, disputeID string) ([]Transition, error) {
	const query = `
		SELECT id, dispute_id::text, from_status, to_status, actor_id::text, actor_type, reason, created_at
		FROM dispute_transitions
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC
	`
	if !db.ValidUUID(disputeID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: history: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.DisputeID, &t.From, &t.To, &t.ActorID, &t.ActorType, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate history: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListTracked(ctx context.Context, orgID string, statuses []Status) ([]Tracked, error) {
	if !db.ValidUUID(orgID) || len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := `
		SELECT ` + disputeColumns + `,
			p.id::text, p.organization_id::text, p.name, p.resolution_hours, p.escalation_hours, p.is_default, p.created_at, p.updated_at
		FROM disputes d
		JOIN sla_policies p ON p.id = d.sla_policy_id
		WHERE d.organization_id = $1 AND d.status = ANY($2)
		ORDER BY d.created_at ASC, d.id ASC
	`
	rows, err := s.pool.Query(ctx, query, orgID, names)
	if err != nil {
		return nil, fmt.Errorf("dispute: list tracked: %w", err)
	}
	defer rows.Close()

	var out []Tracked
	for rows.Next() {
		var (
			t Tracked
			d = &t.Dispute
			p = &t.Policy
		)
		if err := rows.Scan(
			&d.ID, &d.OrganizationID, &d.CreatedBy, &d.AssignedTo,
			&d.ExternalReference, &d.Reason, &d.Amount, &d.Currency, &d.Status, &d.SLAPolicyID,
			&d.SLADeadline, &d.CreatedAt, &d.UpdatedAt,
			&p.ID, &p.OrganizationID, &p.Name, &p.ResolutionHours, &p.EscalationHours, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("dispute: scan tracked: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate tracked: %w", err)
	}
	return out, nil
}

// pgTx adapts a pgx.Tx to Tx, reusing the org, sla and audit repositories
// over the same transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Organization(ctx context.Context, id string) (org.Organization, error) {
	return org.NewRepository(t.tx).GetOrganization(ctx, id)
}

func (t *pgTx) User(ctx context.Context, id string) (org.User, error) {
	return org.NewRepository(t.tx).GetUser(ctx, id)
}

func (t *pgTx) Policy(ctx context.Context, orgID, id string) (sla.Policy, error) {
	return sla.NewQueries(t.tx).Get(ctx, orgID, id)
}

func (t *pgTx) DefaultPolicy(ctx context.Context, orgID string) (sla.Policy, error) {
	return sla.NewQueries(t.tx).Default(ctx, orgID)
}

func (t *pgTx) Append(ctx context.Context, e audit.Entry) error {
	return audit.NewWriter(t.tx).Append(ctx, e)
}

func (t *pgTx) Insert(ctx context.Context, d Dispute) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO disputes (id, organization_id, created_by, assigned_to, external_reference, reason, amount, currency, status, sla_policy_id, sla_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13)
	`, d.ID, d.OrganizationID, d.CreatedBy, d.AssignedTo, d.ExternalReference, d.Reason, d.Amount, d.Currency,
		string(d.Status), d.SLAPolicyID, d.SLADeadline, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
		return fmt.Errorf("dispute: insert: %w", err)
	}
	return nil
}

func (t *pgTx) Lock(ctx context.Context, orgID, id string) (Dispute, error) {
	if !db.ValidUUID(id) || !db.ValidUUID(orgID) {
		return Dispute{}, ErrNotFound
	}
	row := t.tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes d WHERE d.id = $1 AND d.organization_id = $2 FOR UPDATE`, id, orgID)
	return scanDispute(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id string, to Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE disputes SET status = $1, updated_at = $2 WHERE id = $3`, string(to), at, id)
	if err != nil {
		return fmt.Errorf("dispute: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdateAssignee(ctx context.Context, id string, assignee *string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE disputes SET assigned_to = $1, updated_at = $2 WHERE id = $3`, assignee, at, id)
	if err != nil {
		return fmt.Errorf("dispute: update assignee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendTransition(ctx context.Context, tr Transition) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO dispute_transitions (id, dispute_id, from_status, to_status, actor_id, actor_type, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tr.ID, tr.DisputeID, string(tr.From), string(tr.To), tr.ActorID, string(tr.ActorType), tr.Reason, tr.CreatedAt); err != nil {
		return fmt.Errorf("dispute: append transition: %w", err)
	}
	return nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.CreatedBy, &d.AssignedTo,
		&d.ExternalReference, &d.Reason, &d.Amount, &d.Currency, &d.Status, &d.SLAPolicyID,
		&d.SLADeadline, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, classify("scan", err)
	}
	return d, nil
}

// classify maps lock and serialization failures to ErrConflict and leaves
// every other error as is.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s: %s", ErrConflict, op, pgErr.Message)
		}
	}
	if op == "tx" || op == "scan" {
		return err
	}
	return fmt.Errorf("dispute: %s: %w", op, err)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
