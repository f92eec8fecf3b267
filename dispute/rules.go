package dispute

import "disputeflow/org"

// Leg is one way of reaching a target status: from any of From, by a caller
// holding any of Roles, acting as any of Actors.
type Leg struct {
	From   []Status
	Roles  []org.Role
	Actors []ActorType
}

var (
	agentOrSupervisor = []org.Role{org.RoleAgent, org.RoleSupervisor}
	supervisorOnly    = []org.Role{org.RoleSupervisor}
	systemOnly        = []org.Role{org.RoleSystem}
	humanActor        = []ActorType{ActorAgent}
	systemActor       = []ActorType{ActorSystem}
)

// rules is keyed by target status. OPEN is only ever an initial state and
// has no entry.
var rules = map[Status][]Leg{
	StatusInProgress: {
		{From: []Status{StatusOpen, StatusWaitingForCustomer}, Roles: agentOrSupervisor, Actors: humanActor},
		{From: []Status{StatusEscalated, StatusResolved}, Roles: supervisorOnly, Actors: humanActor},
	},
	StatusWaitingForCustomer: {
		{From: []Status{StatusInProgress}, Roles: agentOrSupervisor, Actors: humanActor},
	},
	StatusEscalated: {
		{From: []Status{StatusInProgress, StatusWaitingForCustomer}, Roles: agentOrSupervisor, Actors: humanActor},
		{From: []Status{StatusOpen}, Roles: supervisorOnly, Actors: humanActor},
		{From: []Status{StatusOpen, StatusInProgress, StatusWaitingForCustomer}, Roles: systemOnly, Actors: systemActor},
	},
	StatusResolved: {
		{From: []Status{StatusInProgress, StatusWaitingForCustomer}, Roles: agentOrSupervisor, Actors: humanActor},
		{From: []Status{StatusOpen, StatusEscalated, StatusClosed}, Roles: supervisorOnly, Actors: humanActor},
	},
	StatusClosed: {
		{From: []Status{StatusResolved}, Roles: supervisorOnly, Actors: humanActor},
	},
}

// Rules returns a copy of the transition table keyed by target status.
func Rules() map[Status][]Leg {
	out := make(map[Status][]Leg, len(rules))
	for to, legs := range rules {
		copied := make([]Leg, len(legs))
		for i, leg := range legs {
			copied[i] = leg.clone()
		}
		out[to] = copied
	}
	return out
}

func (l Leg) clone() Leg {
	return Leg{
		From:   append([]Status(nil), l.From...),
		Roles:  append([]org.Role(nil), l.Roles...),
		Actors: append([]ActorType(nil), l.Actors...),
	}
}

func (l Leg) allowsFrom(s Status) bool {
	for _, f := range l.From {
		if f == s {
			return true
		}
	}
	return false
}

func (l Leg) allowsRole(r org.Role) bool {
	for _, candidate := range l.Roles {
		if candidate == r {
			return true
		}
	}
	return false
}

func (l Leg) allowsActor(a ActorType) bool {
	for _, candidate := range l.Actors {
		if candidate == a {
			return true
		}
	}
	return false
}
