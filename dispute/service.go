package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"disputeflow/audit"
	"disputeflow/ids"
	"disputeflow/notify"
	"disputeflow/obs"
	"disputeflow/org"
	"disputeflow/sla"
)

const (
	entityDispute      = "Dispute"
	initialReason      = "initial state"
	systemReasonPrefix = "[system] "
	defaultCurrency    = "USD"
)

var (
	amountPattern   = regexp.MustCompile(`^\d{1,16}(\.\d{1,2})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Service is the workflow engine. Every mutation runs in one store
// transaction together with its transition and audit records.
type Service struct {
	store        Store
	notifier     notify.Emitter
	logger       *slog.Logger
	metrics      *obs.Metrics
	idGenerator  func() string
	now          func() time.Time
	defaultHours int
}

func NewService(store Store, notifier notify.Emitter, logger *slog.Logger, metrics *obs.Metrics) *Service {
	return &Service{
		store:        store,
		notifier:     notifier,
		logger:       obs.OrDefault(logger),
		metrics:      metrics,
		idGenerator:  func() string { return uuid.NewString() },
		now:          time.Now,
		defaultHours: sla.DefaultResolutionHours,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithDefaultResolutionHours sets the deadline window for disputes created
// without any policy.
func (s *Service) WithDefaultResolutionHours(hours int) *Service {
	if hours > 0 {
		s.defaultHours = hours
	}
	return s
}

// stamp samples the clock once per transaction. Mutations of an existing
// dispute take it only after the row lock is held, so writes serialized by
// the lock are also ordered by time.
type stamp struct {
	clock func() time.Time
	at    time.Time
}

func (c *stamp) Now() time.Time {
	if c.at.IsZero() {
		c.at = c.clock()
	}
	return c.at
}

// mutate runs fn and then records the audit entry it returns, both inside
// one transaction. A conflict is retried once with a fresh transaction.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx Tx, ts *stamp) (audit.Entry, error)) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.store.InTx(ctx, func(tx Tx) error {
			ts := &stamp{clock: s.now}
			entry, err := fn(tx, ts)
			if err != nil {
				return err
			}
			return audit.Record(ctx, tx, entry, ts.Now())
		})
		if !errors.Is(err, ErrConflict) {
			break
		}
		s.metrics.Conflict()
		s.logger.WarnContext(ctx, "dispute mutation conflict",
			"module", "dispute",
			"operation", op,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return err
}

func (s *Service) Create(ctx context.Context, orgID string, params CreateParams, actorUserID string) (Dispute, error) {
	params, err := params.normalize()
	if err != nil {
		return Dispute{}, err
	}

	var created Dispute
	err = s.mutate(ctx, "create", func(tx Tx, ts *stamp) (audit.Entry, error) {
		now := ts.Now()
		if _, err := tx.Organization(ctx, orgID); err != nil {
			return audit.Entry{}, notFound("organization", err)
		}
		actor, err := tx.User(ctx, actorUserID)
		if err != nil {
			return audit.Entry{}, notFound("user", err)
		}
		if actor.OrganizationID != orgID {
			return audit.Entry{}, fmt.Errorf("%w: user", ErrNotFound)
		}

		policy, err := s.resolvePolicy(ctx, tx, orgID, params.SLAPolicyID)
		if err != nil {
			return audit.Entry{}, err
		}

		d := Dispute{
			ID:                s.idGenerator(),
			OrganizationID:    orgID,
			CreatedBy:         actor.ID,
			ExternalReference: params.ExternalReference,
			Reason:            params.Reason,
			Amount:            params.Amount,
			Currency:          params.Currency,
			Status:            StatusOpen,
			SLADeadline:       sla.Deadline(now, policy, s.defaultHours),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if policy != nil {
			d.SLAPolicyID = &policy.ID
		}
		if err := tx.Insert(ctx, d); err != nil {
			return audit.Entry{}, err
		}
		if err := tx.AppendTransition(ctx, Transition{
			ID:        ids.NewAt(now),
			DisputeID: d.ID,
			From:      StatusOpen,
			To:        StatusOpen,
			ActorType: ActorSystem,
			Reason:    initialReason,
			CreatedAt: now,
		}); err != nil {
			return audit.Entry{}, err
		}

		created = d
		return audit.Entry{
			OrganizationID: orgID,
			UserID:         &actor.ID,
			DisputeID:      &d.ID,
			Action:         audit.ActionCreate,
			Entity:         entityDispute,
			Changes: map[string]any{
				"status":      string(d.Status),
				"reason":      d.Reason,
				"amount":      d.Amount,
				"currency":    d.Currency,
				"slaPolicyId": d.SLAPolicyID,
				"slaDeadline": d.SLADeadline,
			},
		}, nil
	})
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

func (s *Service) resolvePolicy(ctx context.Context, tx Tx, orgID, policyID string) (*sla.Policy, error) {
	if policyID != "" {
		p, err := tx.Policy(ctx, orgID, policyID)
		if err != nil {
			return nil, notFound("sla policy", err)
		}
		return &p, nil
	}
	p, err := tx.DefaultPolicy(ctx, orgID)
	if errors.Is(err, sla.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) List(ctx context.Context, orgID string, f Filter) ([]Dispute, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *f.Status)
	}
	return s.store.List(ctx, orgID, f, s.now())
}

func (s *Service) Get(ctx context.Context, orgID, id string) (Dispute, error) {
	return s.store.Get(ctx, orgID, id)
}

// History returns the dispute's transitions in the order they were applied.
func (s *Service) History(ctx context.Context, orgID, id string) ([]Transition, error) {
	if _, err := s.store.Get(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// NextStates lists the statuses the dispute can move to for role.
func (s *Service) NextStates(ctx context.Context, orgID, id string, role org.Role) ([]Status, error) {
	d, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return ValidNextStates(d.Status, role), nil
}

// Tracked lists the active disputes of orgID measured against a policy.
func (s *Service) Tracked(ctx context.Context, orgID string, statuses []Status) ([]Tracked, error) {
	return s.store.ListTracked(ctx, orgID, statuses)
}

// Transition moves a dispute on behalf of a user. The asserted role must
// match the user's stored role; the rule check runs against the status
// read under the row lock.
func (s *Service) Transition(ctx context.Context, params TransitionParams) (Dispute, error) {
	role := org.Role(strings.ToUpper(strings.TrimSpace(params.ActorRole)))
	return s.transition(ctx, params.OrganizationID, params.DisputeID, params.To, strings.TrimSpace(params.Reason), params.ActorUserID, role, ActorAgent)
}

// SystemTransition moves a dispute on behalf of the scheduler.
func (s *Service) SystemTransition(ctx context.Context, orgID, id string, to Status, reason string) (Dispute, error) {
	return s.transition(ctx, orgID, id, to, systemReasonPrefix+reason, "", org.RoleSystem, ActorSystem)
}

func (s *Service) transition(ctx context.Context, orgID, id string, to Status, reason, actorUserID string, role org.Role, actor ActorType) (Dispute, error) {
	var updated Dispute
	err := s.mutate(ctx, "transition", func(tx Tx, ts *stamp) (audit.Entry, error) {
		d, err := tx.Lock(ctx, orgID, id)
		if err != nil {
			return audit.Entry{}, err
		}
		now := ts.Now()

		var actorID *string
		if actor == ActorAgent {
			u, err := tx.User(ctx, actorUserID)
			if err != nil && !errors.Is(err, org.ErrNotFound) {
				return audit.Entry{}, err
			}
			if err != nil || u.OrganizationID != orgID || u.Role != role {
				return audit.Entry{}, fmt.Errorf("%w: actor may not act as %s", ErrForbidden, role)
			}
			actorID = &u.ID
		}

		if err := Validate(d.Status, to, role, actor); err != nil {
			return audit.Entry{}, err
		}
		if err := tx.UpdateStatus(ctx, d.ID, to, now); err != nil {
			return audit.Entry{}, err
		}
		if err := tx.AppendTransition(ctx, Transition{
			ID:        ids.NewAt(now),
			DisputeID: d.ID,
			From:      d.Status,
			To:        to,
			ActorID:   actorID,
			ActorType: actor,
			Reason:    reason,
			CreatedAt: now,
		}); err != nil {
			return audit.Entry{}, err
		}

		from := d.Status
		d.Status = to
		d.UpdatedAt = now
		updated = d
		return audit.Entry{
			OrganizationID: orgID,
			UserID:         actorID,
			DisputeID:      &d.ID,
			Action:         audit.ActionTransition,
			Entity:         entityDispute,
			Changes: map[string]any{
				"from":      string(from),
				"to":        string(to),
				"reason":    reason,
				"actorType": string(actor),
			},
		}, nil
	})
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: transition: %w", err)
	}

	s.metrics.TransitionApplied(string(to), string(actor))
	s.logger.InfoContext(ctx, "dispute transitioned",
		"module", "dispute",
		"operation", "transition",
		"outcome", "success",
		"dispute_id", updated.ID,
		"organization_id", orgID,
		"to", string(to),
		"actor_type", string(actor),
	)
	return updated, nil
}

// Assign sets the dispute's assignee and notifies them once the change is
// committed. Notification failures are logged, never returned.
func (s *Service) Assign(ctx context.Context, orgID, id, assigneeID, actorUserID string) (Dispute, error) {
	var updated Dispute
	err := s.mutate(ctx, "assign", func(tx Tx, ts *stamp) (audit.Entry, error) {
		d, err := tx.Lock(ctx, orgID, id)
		if err != nil {
			return audit.Entry{}, err
		}
		now := ts.Now()
		actor, err := tx.User(ctx, actorUserID)
		if err != nil && !errors.Is(err, org.ErrNotFound) {
			return audit.Entry{}, err
		}
		if err != nil || actor.OrganizationID != orgID {
			return audit.Entry{}, fmt.Errorf("%w: actor not in organization", ErrForbidden)
		}
		assignee, err := tx.User(ctx, assigneeID)
		if err != nil {
			return audit.Entry{}, notFound("assignee", err)
		}
		if assignee.OrganizationID != orgID {
			return audit.Entry{}, fmt.Errorf("%w: assignee", ErrNotFound)
		}

		if err := tx.UpdateAssignee(ctx, d.ID, &assignee.ID, now); err != nil {
			return audit.Entry{}, err
		}

		previous := d.AssignedTo
		d.AssignedTo = &assignee.ID
		d.UpdatedAt = now
		updated = d
		return audit.Entry{
			OrganizationID: orgID,
			UserID:         &actor.ID,
			DisputeID:      &d.ID,
			Action:         audit.ActionAssign,
			Entity:         entityDispute,
			Changes: map[string]any{
				"previousAssignee": previous,
				"assignee":         assignee.ID,
			},
		}, nil
	})
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: assign: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.Assigned(assigneeID, updated.ID, updated.ExternalReference)); err != nil {
			s.logger.WarnContext(ctx, "assignment notification failed",
				"module", "dispute",
				"operation", "assign",
				"outcome", "failure",
				"dispute_id", updated.ID,
				"assignee_id", assigneeID,
				"error", err,
			)
		}
	}
	return updated, nil
}

func (p CreateParams) normalize() (CreateParams, error) {
	p.Reason = strings.TrimSpace(p.Reason)
	p.ExternalReference = strings.TrimSpace(p.ExternalReference)
	p.Amount = strings.TrimSpace(p.Amount)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	p.SLAPolicyID = strings.TrimSpace(p.SLAPolicyID)

	if p.Reason == "" {
		return CreateParams{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	}
	if !amountPattern.MatchString(p.Amount) {
		return CreateParams{}, fmt.Errorf("%w: amount must be a non-negative decimal with at most two fraction digits", ErrInvalidInput)
	}
	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
	if !currencyPattern.MatchString(p.Currency) {
		return CreateParams{}, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	return p, nil
}

// notFound folds the not-found errors of collaborating packages into
// ErrNotFound and passes anything else through.
func notFound(what string, err error) error {
	if errors.Is(err, org.ErrNotFound) || errors.Is(err, sla.ErrNotFound) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
