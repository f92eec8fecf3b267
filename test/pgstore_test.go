package test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/notify"
	"disputeflow/obs"
	"disputeflow/org"
	"disputeflow/scheduler"
	"disputeflow/sla"
	"disputeflow/test/infra"
)

type pgEnv struct {
	h      *infra.Harness
	tenant infra.Tenant
	svc    *dispute.Service
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	ctx := context.Background()
	h := newHarness(t, ctx)
	tenant, err := h.SeedTenant(ctx, "Acme", 2, 24, 4)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := dispute.NewService(
		dispute.NewPGStore(h.Pool(), 200*time.Millisecond),
		notify.NewPGStore(h.Pool()),
		obs.NewLoggerTo(io.Discard, "error"),
		nil,
	)
	return &pgEnv{h: h, tenant: tenant, svc: svc}
}

func (e *pgEnv) create(t *testing.T) dispute.Dispute {
	t.Helper()
	d, err := e.svc.Create(audit.WithProvenance(context.Background(), audit.Provenance{RequestID: "req-pg", IPAddress: "198.51.100.4"}),
		e.tenant.OrganizationID, dispute.CreateParams{Reason: "fraud", Amount: "19.9", Currency: "eur"}, e.tenant.AgentIDs[0])
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return d
}

func TestPGCreateTransitionAndAudit(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	d := e.create(t)

	if d.SLAPolicyID == nil || *d.SLAPolicyID != e.tenant.PolicyID {
		t.Fatalf("expected default policy, got %v", d.SLAPolicyID)
	}
	got, err := e.svc.Get(ctx, e.tenant.OrganizationID, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != "19.90" || got.Currency != "EUR" || got.Status != dispute.StatusOpen {
		t.Fatalf("unexpected stored dispute: %+v", got)
	}

	if _, err := e.svc.Transition(ctx, dispute.TransitionParams{
		OrganizationID: e.tenant.OrganizationID,
		DisputeID:      d.ID,
		To:             dispute.StatusInProgress,
		Reason:         "picked up",
		ActorUserID:    e.tenant.AgentIDs[0],
		ActorRole:      "AGENT",
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	history, err := e.svc.History(ctx, e.tenant.OrganizationID, d.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[1].From != dispute.StatusOpen || history[1].To != dispute.StatusInProgress {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[1].ActorID == nil || *history[1].ActorID != e.tenant.AgentIDs[0] {
		t.Fatalf("expected agent as actor, got %v", history[1].ActorID)
	}

	entries, err := audit.NewRepository(e.h.Pool()).List(ctx, e.tenant.OrganizationID, audit.Filter{DisputeID: d.ID})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != audit.ActionTransition || entries[1].Action != audit.ActionCreate {
		t.Fatalf("expected transition then create entries, got %+v", entries)
	}
	if entries[1].RequestID != "req-pg" || entries[1].IPAddress != "198.51.100.4" {
		t.Fatalf("expected provenance on create entry, got %+v", entries[1])
	}
	if entries[0].Changes["to"] != string(dispute.StatusInProgress) {
		t.Fatalf("expected changes to round trip, got %v", entries[0].Changes)
	}

	one, err := audit.NewRepository(e.h.Pool()).Get(ctx, e.tenant.OrganizationID, entries[0].ID)
	if err != nil || one.ID != entries[0].ID {
		t.Fatalf("audit get: %+v %v", one, err)
	}
}

func TestPGRejectedTransitionLeavesNoTrace(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	d := e.create(t)

	_, err := e.svc.Transition(ctx, dispute.TransitionParams{
		OrganizationID: e.tenant.OrganizationID,
		DisputeID:      d.ID,
		To:             dispute.StatusClosed,
		ActorUserID:    e.tenant.AgentIDs[0],
		ActorRole:      "AGENT",
	})
	if !errors.Is(err, dispute.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	history, _ := e.svc.History(ctx, e.tenant.OrganizationID, d.ID)
	if len(history) != 1 {
		t.Fatalf("expected only the creation row, got %d", len(history))
	}
}

func TestPGLockTimeoutIsConflict(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	d := e.create(t)

	holder, err := e.h.Pool().Begin(ctx)
	if err != nil {
		t.Fatalf("begin holder: %v", err)
	}
	defer holder.Rollback(ctx)
	if _, err := holder.Exec(ctx, `SELECT 1 FROM disputes WHERE id = $1 FOR UPDATE`, d.ID); err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	_, err = e.svc.Transition(ctx, dispute.TransitionParams{
		OrganizationID: e.tenant.OrganizationID,
		DisputeID:      d.ID,
		To:             dispute.StatusInProgress,
		ActorUserID:    e.tenant.SupervisorID,
		ActorRole:      "SUPERVISOR",
	})
	if !errors.Is(err, dispute.ErrConflict) {
		t.Fatalf("expected conflict while the row is locked, got %v", err)
	}
}

func TestPGListFiltersAndTenantScope(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	first := e.create(t)
	e.create(t)

	if _, err := e.svc.Assign(ctx, e.tenant.OrganizationID, first.ID, e.tenant.AgentIDs[1], e.tenant.SupervisorID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	assigned, err := e.svc.List(ctx, e.tenant.OrganizationID, dispute.Filter{AssigneeID: e.tenant.AgentIDs[1]})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != first.ID {
		t.Fatalf("expected the assigned dispute only, got %+v", assigned)
	}

	overdue := true
	late, err := e.svc.List(ctx, e.tenant.OrganizationID, dispute.Filter{SLAOverdue: &overdue})
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(late) != 0 {
		t.Fatalf("expected nothing overdue yet, got %d", len(late))
	}

	other, err := e.h.SeedTenant(ctx, "Globex", 1, 24, 4)
	if err != nil {
		t.Fatalf("seed other: %v", err)
	}
	if _, err := e.svc.Get(ctx, other.OrganizationID, first.ID); !errors.Is(err, dispute.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}

	var notified int
	if err := e.h.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND type = 'DISPUTE_ASSIGNED'`, e.tenant.AgentIDs[1]).Scan(&notified); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected one assignment notification, got %d", notified)
	}
}

func TestPGPolicyDefaultsAndInUse(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	policies := sla.NewService(sla.NewPGStore(e.h.Pool()))

	fast, err := policies.Create(ctx, e.tenant.OrganizationID, sla.PolicyParams{Name: "fast", ResolutionHours: 8, EscalationHours: 2, IsDefault: true})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	def, err := sla.NewQueries(e.h.Pool()).Default(ctx, e.tenant.OrganizationID)
	if err != nil || def.ID != fast.ID {
		t.Fatalf("expected new default %s, got %+v %v", fast.ID, def, err)
	}

	e.create(t)
	if err := policies.Delete(ctx, e.tenant.OrganizationID, fast.ID); !errors.Is(err, sla.ErrInUse) {
		t.Fatalf("expected policy in use, got %v", err)
	}
	if err := policies.Delete(ctx, e.tenant.OrganizationID, e.tenant.PolicyID); err != nil {
		t.Fatalf("delete unused policy: %v", err)
	}
}

func TestPGSchedulerEscalatesOverdue(t *testing.T) {
	e := newPGEnv(t)
	ctx := context.Background()
	d := e.create(t)

	logger := obs.NewLoggerTo(io.Discard, "error")
	sched := scheduler.New(scheduler.NewMemoryRegistry(), e.svc, org.NewRepository(e.h.Pool()), notify.NewPGStore(e.h.Pool()), logger, nil, scheduler.Config{}).
		WithClock(func() time.Time { return time.Now().Add(30 * time.Hour) })

	if err := sched.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	res, err := sched.CheckEscalations(ctx, e.tenant.OrganizationID)
	if err != nil {
		t.Fatalf("escalations: %v", err)
	}
	if res.Acted != 1 {
		t.Fatalf("expected one escalation, got %+v", res)
	}
	got, _ := e.svc.Get(ctx, e.tenant.OrganizationID, d.ID)
	if got.Status != dispute.StatusEscalated {
		t.Fatalf("expected ESCALATED, got %s", got.Status)
	}

	res, err = sched.CheckBreaches(ctx, e.tenant.OrganizationID)
	if err != nil {
		t.Fatalf("breaches: %v", err)
	}
	if res.Acted != 1 {
		t.Fatalf("expected one breach alert, got %+v", res)
	}
	assertOracles(t, ctx, e.h)
}
