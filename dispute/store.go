package dispute

import (
	"context"
	"time"

	"disputeflow/audit"
	"disputeflow/org"
	"disputeflow/sla"
)

// Store is the transactional persistence boundary of the workflow.
type Store interface {
	// InTx runs fn in one transaction. A non-nil error from fn, or from the
	// commit, discards every write fn made.
	InTx(ctx context.Context, fn func(Tx) error) error

	Get(ctx context.Context, orgID, id string) (Dispute, error)
	List(ctx context.Context, orgID string, f Filter, now time.Time) ([]Dispute, error)
	History(ctx context.Context, disputeID string) ([]Transition, error)
	// ListTracked returns disputes of orgID in one of statuses that have a
	// linked policy, oldest first.
	ListTracked(ctx context.Context, orgID string, statuses []Status) ([]Tracked, error)
}

// Tx is the set of reads and writes available inside InTx. Appending audit
// entries through it makes them part of the same transaction.
type Tx interface {
	audit.Appender

	Organization(ctx context.Context, id string) (org.Organization, error)
	User(ctx context.Context, id string) (org.User, error)
	Policy(ctx context.Context, orgID, id string) (sla.Policy, error)
	DefaultPolicy(ctx context.Context, orgID string) (sla.Policy, error)

	Insert(ctx context.Context, d Dispute) error
	// Lock reads the dispute and holds it against concurrent writers until
	// the transaction ends. Disputes of other organizations are ErrNotFound.
	Lock(ctx context.Context, orgID, id string) (Dispute, error)
	UpdateStatus(ctx context.Context, id string, to Status, at time.Time) error
	UpdateAssignee(ctx context.Context, id string, assignee *string, at time.Time) error
	AppendTransition(ctx context.Context, t Transition) error
}
