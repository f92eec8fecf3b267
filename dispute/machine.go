package dispute

import (
	"sort"

	"disputeflow/org"
)

// Validate decides whether role, acting as actor, may move a dispute from
// one status to another. Rejections are *TransitionError values checked in
// a fixed order: same state, unknown target, illegal source, role, actor.
func Validate(from, to Status, role org.Role, actor ActorType) error {
	reject := func(kind error) error {
		return &TransitionError{From: from, To: to, Role: role, Actor: actor, Kind: kind}
	}

	if from == to {
		return reject(ErrSameState)
	}
	legs, ok := rules[to]
	if !ok {
		return reject(ErrInvalidTarget)
	}

	var fromLegs []Leg
	for _, leg := range legs {
		if leg.allowsFrom(from) {
			fromLegs = append(fromLegs, leg)
		}
	}
	if len(fromLegs) == 0 {
		return reject(ErrIllegalSource)
	}

	var roleLegs []Leg
	for _, leg := range fromLegs {
		if leg.allowsRole(role) {
			roleLegs = append(roleLegs, leg)
		}
	}
	if len(roleLegs) == 0 {
		return reject(ErrUnauthorizedRole)
	}

	for _, leg := range roleLegs {
		if leg.allowsActor(actor) {
			return nil
		}
	}
	return reject(ErrUnauthorizedActor)
}

func CanTransition(from, to Status, role org.Role, actor ActorType) bool {
	return Validate(from, to, role, actor) == nil
}

// NaturalActor is the actor type a role transitions as.
func NaturalActor(role org.Role) ActorType {
	if role == org.RoleSystem {
		return ActorSystem
	}
	return ActorAgent
}

// ValidNextStates lists the targets role can reach from current, in
// lifecycle order.
func ValidNextStates(current Status, role org.Role) []Status {
	actor := NaturalActor(role)
	var out []Status
	for to := range rules {
		if CanTransition(current, to, role, actor) {
			out = append(out, to)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lifecycleRank(out[i]) < lifecycleRank(out[j])
	})
	return out
}

// Rule returns the legs through which from can reach to, if any.
func Rule(from, to Status) []Leg {
	var out []Leg
	for _, leg := range rules[to] {
		if leg.allowsFrom(from) {
			out = append(out, leg.clone())
		}
	}
	return out
}
