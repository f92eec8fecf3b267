package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"disputeflow/ids"
)

// Actions recorded by the workflow.
const (
	ActionCreate     = "CREATE"
	ActionTransition = "TRANSITION"
	ActionAssign     = "ASSIGN"
)

var (
	ErrNotFound     = errors.New("audit: entry not found")
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Entry is one append-only audit record.
type Entry struct {
	ID             string
	OrganizationID string
	UserID         *string
	DisputeID      *string
	Action         string
	Entity         string
	Changes        map[string]any
	IPAddress      string
	UserAgent      string
	RequestID      string
	CreatedAt      time.Time
}

// Appender persists entries. Implementations bound to a transaction make
// the entry part of that transaction.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Provenance describes where a request came from.
type Provenance struct {
	IPAddress string
	UserAgent string
	RequestID string
}

type ctxKey struct{}

// WithProvenance attaches request provenance for every entry recorded
// under ctx.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	p.IPAddress = strings.TrimSpace(p.IPAddress)
	p.UserAgent = strings.TrimSpace(p.UserAgent)
	p.RequestID = strings.TrimSpace(p.RequestID)
	if p == (Provenance{}) {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, p)
}

func ProvenanceFromContext(ctx context.Context) Provenance {
	if ctx == nil {
		return Provenance{}
	}
	p, _ := ctx.Value(ctxKey{}).(Provenance)
	return p
}

// Record completes e with an id, a timestamp and the provenance found in
// ctx, then appends it. Any error must abort the surrounding mutation.
func Record(ctx context.Context, a Appender, e Entry, now time.Time) error {
	e.Action = strings.TrimSpace(e.Action)
	e.Entity = strings.TrimSpace(e.Entity)
	if e.OrganizationID == "" || e.Action == "" || e.Entity == "" {
		return fmt.Errorf("%w: organization, action and entity are required", ErrInvalidEntry)
	}
	if now.IsZero() {
		now = time.Now()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(now)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.Changes == nil {
		e.Changes = map[string]any{}
	}

	p := ProvenanceFromContext(ctx)
	if e.IPAddress == "" {
		e.IPAddress = p.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = p.UserAgent
	}
	if e.RequestID == "" {
		e.RequestID = p.RequestID
	}

	if err := a.Append(ctx, e); err != nil {
		return fmt.Errorf("audit: append %s %s: %w", e.Action, e.Entity, err)
	}
	return nil
}
