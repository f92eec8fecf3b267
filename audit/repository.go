package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"disputeflow/db"
)

const entryColumns = `id, organization_id::text, user_id::text, dispute_id::text, action, entity, changes, ip_address, user_agent, request_id, created_at`

// Writer appends entries through a DBTX. Built over a pgx.Tx it makes the
// audit record commit or roll back with the mutation it describes.
type Writer struct {
	db db.DBTX
}

func NewWriter(q db.DBTX) *Writer {
	return &Writer{db: q}
}

func (w *Writer) Append(ctx context.Context, e Entry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = w.db.Exec(ctx, `
		INSERT INTO audit_logs (id, organization_id, user_id, dispute_id, action, entity, changes, ip_address, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
	`, e.ID, e.OrganizationID, e.UserID, e.DisputeID, e.Action, e.Entity, string(changes),
		nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), e.CreatedAt)
	return err
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID    string
	DisputeID string
	Limit     int
	Offset    int
}

// Repository reads entries.
type Repository struct {
	db db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{db: q}
}

// List returns entries of orgID, newest first.
func (r *Repository) List(ctx context.Context, orgID string, f Filter) ([]Entry, error) {
	if !db.ValidUUID(orgID) {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM audit_logs WHERE organization_id = $1`
	args := []any{orgID}
	if f.UserID != "" {
		if !db.ValidUUID(f.UserID) {
			return nil, nil
		}
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.DisputeID != "" {
		if !db.ValidUUID(f.DisputeID) {
			return nil, nil
		}
		args = append(args, f.DisputeID)
		query += fmt.Sprintf(" AND dispute_id = $%d", len(args))
	}
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, orgID, id string) (Entry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_logs WHERE id = $1 AND organization_id::text = $2`, id, orgID)
	return scanEntry(row)
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                        Entry
		raw                      []byte
		ip, userAgent, requestID *string
	)
	err := row.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.DisputeID, &e.Action, &e.Entity, &raw, &ip, &userAgent, &requestID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("audit: scan: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Changes); err != nil {
			return Entry{}, fmt.Errorf("audit: decode changes: %w", err)
		}
	}
	e.IPAddress = deref(ip)
	e.UserAgent = deref(userAgent)
	e.RequestID = deref(requestID)
	return e, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
