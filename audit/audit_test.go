package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type captureAppender struct {
	entries []Entry
	err     error
}

func (c *captureAppender) Append(_ context.Context, e Entry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, e)
	return nil
}

func TestRecordFillsIdentityAndProvenance(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithProvenance(context.Background(), Provenance{
		IPAddress: "10.0.0.7",
		UserAgent: " curl/8.0 ",
		RequestID: "req-42",
	})
	a := &captureAppender{}
	user := "user-1"

	err := Record(ctx, a, Entry{
		OrganizationID: "org-1",
		UserID:         &user,
		Action:         ActionTransition,
		Entity:         "Dispute",
		Changes:        map[string]any{"from": "OPEN", "to": "IN_PROGRESS"},
	}, now)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(a.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(a.entries))
	}
	got := a.entries[0]
	if len(got.ID) != 26 {
		t.Fatalf("expected ulid id, got %q", got.ID)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %v, got %v", now, got.CreatedAt)
	}
	if got.IPAddress != "10.0.0.7" || got.UserAgent != "curl/8.0" || got.RequestID != "req-42" {
		t.Fatalf("provenance not applied: %+v", got)
	}
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	a := &captureAppender{}
	err := Record(context.Background(), a, Entry{OrganizationID: "org-1", Entity: "Dispute"}, time.Now())
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	if len(a.entries) != 0 {
		t.Fatal("invalid entry must not be appended")
	}
}

func TestRecordPropagatesAppendError(t *testing.T) {
	boom := errors.New("disk full")
	a := &captureAppender{err: boom}
	err := Record(context.Background(), a, Entry{OrganizationID: "org-1", Action: ActionCreate, Entity: "Dispute"}, time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped append error, got %v", err)
	}
}

func TestWithProvenanceIgnoresEmpty(t *testing.T) {
	ctx := context.Background()
	if WithProvenance(ctx, Provenance{RequestID: "  "}) != ctx {
		t.Fatal("expected empty provenance to leave context unchanged")
	}
	if p := ProvenanceFromContext(ctx); p != (Provenance{}) {
		t.Fatalf("expected zero provenance, got %+v", p)
	}
}
