package dispute

import (
	"time"

	"disputeflow/sla"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen               Status = "OPEN"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusWaitingForCustomer Status = "WAITING_FOR_CUSTOMER"
	StatusEscalated          Status = "ESCALATED"
	StatusResolved           Status = "RESOLVED"
	StatusClosed             Status = "CLOSED"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusOpen,
		StatusInProgress,
		StatusWaitingForCustomer,
		StatusEscalated,
		StatusResolved,
		StatusClosed,
	}
}

func (s Status) Valid() bool {
	return lifecycleRank(s) >= 0
}

func lifecycleRank(s Status) int {
	for i, candidate := range Statuses() {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ActorType distinguishes human-driven transitions from scheduler-driven ones.
type ActorType string

const (
	ActorAgent  ActorType = "AGENT"
	ActorSystem ActorType = "SYSTEM"
)

// Dispute mirrors the disputes table.
type Dispute struct {
	ID                string
	OrganizationID    string
	CreatedBy         string
	AssignedTo        *string
	ExternalReference string
	Reason            string
	Amount            string
	Currency          string
	Status            Status
	SLAPolicyID       *string
	SLADeadline       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transition is one append-only entry of a dispute's status history.
type Transition struct {
	ID        string
	DisputeID string
	From      Status
	To        Status
	ActorID   *string
	ActorType ActorType
	Reason    string
	CreatedAt time.Time
}

// Tracked pairs an active dispute with the policy it is measured against.
type Tracked struct {
	Dispute Dispute
	Policy  sla.Policy
}

// Filter narrows List. Nil pointers and empty strings match everything.
type Filter struct {
	Status     *Status
	SLAOverdue *bool
	AssigneeID string
	Limit      int
	Offset     int
}

type CreateParams struct {
	ExternalReference string
	Reason            string
	Amount            string
	Currency          string
	SLAPolicyID       string
}

type TransitionParams struct {
	OrganizationID string
	DisputeID      string
	To             Status
	Reason         string
	ActorUserID    string
	ActorRole      string
}
