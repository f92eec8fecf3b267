package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"disputeflow/db"
)

// ErrNotFound signals the requested organization or user does not exist.
var ErrNotFound = errors.New("org: not found")

// Directory is the read side of organizations and their members.
type Directory interface {
	GetOrganization(ctx context.Context, id string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsersByRole(ctx context.Context, orgID string, role Role) ([]User, error)
}

// Repository reads organizations and users from Postgres. It runs against a
// pool or inside a transaction depending on the DBTX it was built with.
type Repository struct {
	db db.DBTX
}

func NewRepository(q db.DBTX) *Repository {
	return &Repository{db: q}
}

func (r *Repository) GetOrganization(ctx context.Context, id string) (Organization, error) {
	if !db.ValidUUID(id) {
		return Organization{}, ErrNotFound
	}
	const query = `
		SELECT id::text, name, created_at
		FROM organizations
		WHERE id = $1
	`

	var o Organization
	err := r.db.QueryRow(ctx, query, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("org: get organization: %w", err)
	}
	return o, nil
}

func (r *Repository) ListOrganizations(ctx context.Context) ([]Organization, error) {
	const query = `
		SELECT id::text, name, created_at
		FROM organizations
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("org: list organizations: %w", err)
	}
	defer rows.Close()

	out := make([]Organization, 0, 8)
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("org: scan organization: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("org: iterate organizations: %w", err)
	}
	return out, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	if !db.ValidUUID(id) {
		return User{}, ErrNotFound
	}
	const query = `
		SELECT id::text, organization_id::text, email, name, role, created_at
		FROM users
		WHERE id = $1
	`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// ListUsersByRole returns the members of orgID holding role, oldest first.
func (r *Repository) ListUsersByRole(ctx context.Context, orgID string, role Role) ([]User, error) {
	if !db.ValidUUID(orgID) {
		return nil, nil
	}
	const query = `
		SELECT id::text, organization_id::text, email, name, role, created_at
		FROM users
		WHERE organization_id = $1 AND role = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, orgID, string(role))
	if err != nil {
		return nil, fmt.Errorf("org: list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("org: iterate users: %w", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("org: scan user: %w", err)
	}
	u.Role = Role(role)
	return u, nil
}
