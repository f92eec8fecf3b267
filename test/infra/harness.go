package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/db"
)

// Harness owns a migrated Postgres database for integration and stress runs.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	// schema is set when the database is shared and this run owns a
	// private schema inside it.
	schema string
}

// NewHarness starts (or reuses, see StartPostgres16) a database and
// applies the migrations. Shared databases get a private schema that Close
// drops again.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	c, dsn, err := StartPostgres16(ctx, overrideDSN)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	h := &Harness{container: c, dsn: dsn}
	if c.Shared() {
		h.schema = fmt.Sprintf("disputeflow_run_%d", time.Now().UnixNano())
		if err := createSchema(ctx, dsn, h.schema); err != nil {
			_ = c.Terminate(ctx)
			return nil, err
		}
	}

	h.pool, err = db.NewPool(ctx, dsn, db.PoolOptions{
		MaxConns:        32,
		MaxConnIdleTime: 30 * time.Second,
		SearchPath:      h.schema,
	})
	if err != nil {
		h.Close(ctx)
		return nil, err
	}
	if err := h.migrate(ctx); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return h, nil
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// migrate applies migrations/*.sql in name order, each file in its own
// transaction.
func (h *Harness) migrate(ctx context.Context) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir(), "*.sql"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations under %s", migrationsDir())
	}
	sort.Strings(files)

	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, h.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, string(body))
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
	}
	return nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections (e.g. chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		if h.schema != "" {
			_, _ = h.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{h.schema}.Sanitize()+" CASCADE")
		}
		h.pool.Close()
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates every table so the next test starts from nothing.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"notifications",
		"audit_logs",
		"dispute_transitions",
		"disputes",
		"sla_policies",
		"users",
		"organizations",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// Tenant is one seeded organization.
type Tenant struct {
	OrganizationID string
	AgentIDs       []string
	SupervisorID   string
	PolicyID       string
}

// SeedTenant inserts an organization with agents, one supervisor and a
// default SLA policy.
func (h *Harness) SeedTenant(ctx context.Context, name string, agents, resolutionHours, escalationHours int) (Tenant, error) {
	t := Tenant{OrganizationID: uuid.NewString(), SupervisorID: uuid.NewString(), PolicyID: uuid.NewString()}

	if _, err := h.pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, t.OrganizationID, name); err != nil {
		return Tenant{}, fmt.Errorf("seed organization: %w", err)
	}
	if _, err := h.pool.Exec(ctx, `INSERT INTO users (id, organization_id, email, name, role) VALUES ($1, $2, $3, 'Supervisor', 'SUPERVISOR')`,
		t.SupervisorID, t.OrganizationID, fmt.Sprintf("sup-%s@example.com", t.SupervisorID)); err != nil {
		return Tenant{}, fmt.Errorf("seed supervisor: %w", err)
	}
	for i := 0; i < agents; i++ {
		id := uuid.NewString()
		if _, err := h.pool.Exec(ctx, `INSERT INTO users (id, organization_id, email, name, role) VALUES ($1, $2, $3, $4, 'AGENT')`,
			id, t.OrganizationID, fmt.Sprintf("agent-%s@example.com", id), fmt.Sprintf("Agent %d", i+1)); err != nil {
			return Tenant{}, fmt.Errorf("seed agent: %w", err)
		}
		t.AgentIDs = append(t.AgentIDs, id)
	}
	if _, err := h.pool.Exec(ctx, `INSERT INTO sla_policies (id, organization_id, name, resolution_hours, escalation_hours, is_default)
		VALUES ($1, $2, 'standard', $3, $4, true)`, t.PolicyID, t.OrganizationID, resolutionHours, escalationHours); err != nil {
		return Tenant{}, fmt.Errorf("seed policy: %w", err)
	}
	return t, nil
}
