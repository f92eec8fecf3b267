package dispute

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"disputeflow/org"
)

type tuple struct {
	from  Status
	to    Status
	role  org.Role
	actor ActorType
}

// legalTuples is the full set of permitted (from, to, role, actor)
// combinations. Anything not listed must be rejected.
var legalTuples = []tuple{
	{StatusOpen, StatusInProgress, org.RoleAgent, ActorAgent},
	{StatusOpen, StatusInProgress, org.RoleSupervisor, ActorAgent},
	{StatusWaitingForCustomer, StatusInProgress, org.RoleAgent, ActorAgent},
	{StatusWaitingForCustomer, StatusInProgress, org.RoleSupervisor, ActorAgent},
	{StatusEscalated, StatusInProgress, org.RoleSupervisor, ActorAgent},
	{StatusResolved, StatusInProgress, org.RoleSupervisor, ActorAgent},

	{StatusInProgress, StatusWaitingForCustomer, org.RoleAgent, ActorAgent},
	{StatusInProgress, StatusWaitingForCustomer, org.RoleSupervisor, ActorAgent},

	{StatusInProgress, StatusEscalated, org.RoleAgent, ActorAgent},
	{StatusInProgress, StatusEscalated, org.RoleSupervisor, ActorAgent},
	{StatusWaitingForCustomer, StatusEscalated, org.RoleAgent, ActorAgent},
	{StatusWaitingForCustomer, StatusEscalated, org.RoleSupervisor, ActorAgent},
	{StatusOpen, StatusEscalated, org.RoleSupervisor, ActorAgent},
	{StatusOpen, StatusEscalated, org.RoleSystem, ActorSystem},
	{StatusInProgress, StatusEscalated, org.RoleSystem, ActorSystem},
	{StatusWaitingForCustomer, StatusEscalated, org.RoleSystem, ActorSystem},

	{StatusInProgress, StatusResolved, org.RoleAgent, ActorAgent},
	{StatusInProgress, StatusResolved, org.RoleSupervisor, ActorAgent},
	{StatusWaitingForCustomer, StatusResolved, org.RoleAgent, ActorAgent},
	{StatusWaitingForCustomer, StatusResolved, org.RoleSupervisor, ActorAgent},
	{StatusOpen, StatusResolved, org.RoleSupervisor, ActorAgent},
	{StatusEscalated, StatusResolved, org.RoleSupervisor, ActorAgent},
	{StatusClosed, StatusResolved, org.RoleSupervisor, ActorAgent},

	{StatusResolved, StatusClosed, org.RoleSupervisor, ActorAgent},
}

func TestValidateExhaustive(t *testing.T) {
	legal := make(map[tuple]bool, len(legalTuples))
	for _, tp := range legalTuples {
		legal[tp] = true
	}
	if len(legal) != 24 {
		t.Fatalf("expected 24 distinct legal tuples, got %d", len(legal))
	}

	roles := []org.Role{org.RoleAgent, org.RoleSupervisor, org.RoleSystem}
	actors := []ActorType{ActorAgent, ActorSystem}

	allowed := 0
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			for _, role := range roles {
				for _, actor := range actors {
					tp := tuple{from, to, role, actor}
					err := Validate(from, to, role, actor)
					if legal[tp] {
						if err != nil {
							t.Errorf("%v: expected allowed, got %v", tp, err)
						}
						allowed++
						continue
					}
					if !errors.Is(err, ErrInvalidTransition) {
						t.Errorf("%v: expected ErrInvalidTransition, got %v", tp, err)
					}
				}
			}
		}
	}
	if allowed != 24 {
		t.Fatalf("expected 24 allowed tuples, got %d", allowed)
	}
}

func TestValidateRejectionKinds(t *testing.T) {
	cases := []struct {
		name string
		tp   tuple
		kind error
		code string
	}{
		{"self transition", tuple{StatusOpen, StatusOpen, org.RoleSupervisor, ActorAgent}, ErrSameState, "SAME_STATE"},
		{"self transition wins over missing rule", tuple{StatusClosed, StatusClosed, org.RoleAgent, ActorSystem}, ErrSameState, "SAME_STATE"},
		{"open is never a target", tuple{StatusInProgress, StatusOpen, org.RoleSupervisor, ActorAgent}, ErrInvalidTarget, "INVALID_TARGET"},
		{"unknown target", tuple{StatusOpen, Status("ARCHIVED"), org.RoleSupervisor, ActorAgent}, ErrInvalidTarget, "INVALID_TARGET"},
		{"closed only from resolved", tuple{StatusInProgress, StatusClosed, org.RoleSupervisor, ActorAgent}, ErrIllegalSource, "ILLEGAL_SOURCE"},
		{"agent cannot close", tuple{StatusResolved, StatusClosed, org.RoleAgent, ActorAgent}, ErrUnauthorizedRole, "UNAUTHORIZED_ROLE"},
		{"agent cannot reopen escalated", tuple{StatusEscalated, StatusInProgress, org.RoleAgent, ActorAgent}, ErrUnauthorizedRole, "UNAUTHORIZED_ROLE"},
		{"agent cannot escalate open", tuple{StatusOpen, StatusEscalated, org.RoleAgent, ActorAgent}, ErrUnauthorizedRole, "UNAUTHORIZED_ROLE"},
		{"system role acting as agent", tuple{StatusOpen, StatusEscalated, org.RoleSystem, ActorAgent}, ErrUnauthorizedActor, "UNAUTHORIZED_ACTOR"},
		{"supervisor acting as system", tuple{StatusOpen, StatusEscalated, org.RoleSupervisor, ActorSystem}, ErrUnauthorizedActor, "UNAUTHORIZED_ACTOR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.tp.from, tc.tp.to, tc.tp.role, tc.tp.actor)
			if !errors.Is(err, tc.kind) || !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected %v wrapped in ErrInvalidTransition, got %v", tc.kind, err)
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TransitionError, got %T", err)
			}
			if te.Code() != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, te.Code())
			}
			if te.From != tc.tp.from || te.To != tc.tp.to || te.Role != tc.tp.role || te.Actor != tc.tp.actor {
				t.Fatalf("error lost its inputs: %+v", te)
			}
		})
	}
}

func TestSelfTransitionAlwaysIllegal(t *testing.T) {
	for _, s := range Statuses() {
		for _, role := range []org.Role{org.RoleAgent, org.RoleSupervisor, org.RoleSystem} {
			if CanTransition(s, s, role, NaturalActor(role)) {
				t.Fatalf("%s -> %s allowed for %s", s, s, role)
			}
		}
	}
}

func TestValidNextStates(t *testing.T) {
	cases := []struct {
		current Status
		role    org.Role
		want    []Status
	}{
		{StatusOpen, org.RoleAgent, []Status{StatusInProgress}},
		{StatusOpen, org.RoleSupervisor, []Status{StatusInProgress, StatusEscalated, StatusResolved}},
		{StatusOpen, org.RoleSystem, []Status{StatusEscalated}},
		{StatusInProgress, org.RoleAgent, []Status{StatusWaitingForCustomer, StatusEscalated, StatusResolved}},
		{StatusEscalated, org.RoleAgent, nil},
		{StatusEscalated, org.RoleSupervisor, []Status{StatusInProgress, StatusResolved}},
		{StatusResolved, org.RoleSupervisor, []Status{StatusInProgress, StatusClosed}},
		{StatusClosed, org.RoleSupervisor, []Status{StatusResolved}},
		{StatusClosed, org.RoleAgent, nil},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.current, tc.role), func(t *testing.T) {
			got := ValidNextStates(tc.current, tc.role)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRuleLookupAndRulesCopy(t *testing.T) {
	legs := Rule(StatusOpen, StatusEscalated)
	if len(legs) != 2 {
		t.Fatalf("expected supervisor and system legs for OPEN -> ESCALATED, got %d", len(legs))
	}
	if got := Rule(StatusClosed, StatusInProgress); len(got) != 0 {
		t.Fatalf("expected no legs for CLOSED -> IN_PROGRESS, got %v", got)
	}
	if _, ok := Rules()[StatusOpen]; ok {
		t.Fatal("OPEN must not be a rule target")
	}

	copied := Rules()
	copied[StatusClosed][0].Roles[0] = org.RoleAgent
	if !CanTransition(StatusResolved, StatusClosed, org.RoleSupervisor, ActorAgent) {
		t.Fatal("mutating the copy must not change the table")
	}
	if CanTransition(StatusResolved, StatusClosed, org.RoleAgent, ActorAgent) {
		t.Fatal("mutating the copy leaked into the table")
	}
}
