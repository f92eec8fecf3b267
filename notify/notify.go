package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"disputeflow/db"
	"disputeflow/ids"
	"disputeflow/obs"
)

// Type classifies a notification.
type Type string

const (
	TypeSLAWarning      Type = "SLA_WARNING"
	TypeSLABreach       Type = "SLA_BREACH"
	TypeDisputeAssigned Type = "DISPUTE_ASSIGNED"
)

// Notification is addressed to one user. Delivery is out of scope; the
// emitter only records or forwards it.
type Notification struct {
	ID        string
	UserID    string
	DisputeID string
	Type      Type
	Title     string
	Message   string
	CreatedAt time.Time
}

// Emitter accepts notifications. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Notify(ctx context.Context, n Notification) error
}

// SLAWarning tells the assignee a dispute was escalated automatically.
func SLAWarning(userID, disputeID, reference string) Notification {
	return Notification{
		UserID:    userID,
		DisputeID: disputeID,
		Type:      TypeSLAWarning,
		Title:     "SLA Escalation",
		Message:   fmt.Sprintf("Dispute #%s has been automatically escalated due to SLA threshold", label(disputeID, reference)),
	}
}

// SLABreach tells a supervisor a dispute is past its resolution deadline.
func SLABreach(userID, disputeID, reference string) Notification {
	return Notification{
		UserID:    userID,
		DisputeID: disputeID,
		Type:      TypeSLABreach,
		Title:     "SLA Breach Alert",
		Message:   fmt.Sprintf("Dispute #%s has exceeded SLA resolution deadline", label(disputeID, reference)),
	}
}

func Assigned(userID, disputeID, reference string) Notification {
	return Notification{
		UserID:    userID,
		DisputeID: disputeID,
		Type:      TypeDisputeAssigned,
		Title:     "Dispute Assigned",
		Message:   fmt.Sprintf("Dispute #%s has been assigned to you", label(disputeID, reference)),
	}
}

func label(disputeID, reference string) string {
	if reference != "" {
		return reference
	}
	return disputeID
}

// PGStore persists notifications in the notifications table.
type PGStore struct {
	db  db.DBTX
	now func() time.Time
}

func NewPGStore(q db.DBTX) *PGStore {
	return &PGStore{db: q, now: time.Now}
}

func (s *PGStore) Notify(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return errors.New("notify: missing user id")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.ID == "" {
		n.ID = ids.NewAt(n.CreatedAt)
	}
	var disputeID *string
	if n.DisputeID != "" {
		disputeID = &n.DisputeID
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, dispute_id, type, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, disputeID, string(n.Type), n.Title, n.Message, n.CreatedAt); err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

// LogEmitter writes notifications to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: obs.OrDefault(logger)}
}

func (e *LogEmitter) Notify(ctx context.Context, n Notification) error {
	e.logger.InfoContext(ctx, "notification emitted",
		"module", "notify",
		"type", string(n.Type),
		"user_id", n.UserID,
		"dispute_id", n.DisputeID,
		"title", n.Title,
	)
	return nil
}

// Throttled bounds the rate at which notifications reach next. Notify
// blocks for a token until ctx is done.
type Throttled struct {
	next    Emitter
	limiter *rate.Limiter
}

// NewThrottled allows perSecond notifications with the given burst. A
// non-positive rate disables throttling.
func NewThrottled(next Emitter, perSecond float64, burst int) *Throttled {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) Notify(ctx context.Context, n Notification) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: throttled: %w", err)
	}
	return t.next.Notify(ctx, n)
}

// Multi forwards to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, e := range m {
		if err := e.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
