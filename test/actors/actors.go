package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"disputeflow/dispute"
	"disputeflow/org"
	"disputeflow/scheduler"
)

// Pool is the set of dispute ids the actors share.
type Pool struct {
	mu  sync.Mutex
	ids []string
}

func (p *Pool) Add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
}

// Pick returns a random id, or "" when the pool is empty.
func (p *Pool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) == 0 {
		return ""
	}
	return p.ids[rand.Intn(len(p.ids))]
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Stats counts actor outcomes. Rejections and conflicts are expected under
// contention; Unexpected counts anything else (chaos shows up there).
type Stats struct {
	Applied    atomic.Int64
	Rejected   atomic.Int64
	Conflicts  atomic.Int64
	Unexpected atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("applied=%d rejected=%d conflicts=%d unexpected=%d",
		s.Applied.Load(), s.Rejected.Load(), s.Conflicts.Load(), s.Unexpected.Load())
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Applied.Add(1)
	case errors.Is(err, dispute.ErrInvalidTransition):
		s.Rejected.Add(1)
	case errors.Is(err, dispute.ErrConflict):
		s.Conflicts.Add(1)
	default:
		s.Unexpected.Add(1)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Creator opens disputes for the organization and publishes their ids.
func Creator(ctx context.Context, svc *dispute.Service, orgID, userID string, disputes *Pool, stats *Stats, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		d, err := svc.Create(ctx, orgID, dispute.CreateParams{
			ExternalReference: fmt.Sprintf("CB-%d-%d", rand.Int63(), n),
			Reason:            "stress",
			Amount:            fmt.Sprintf("%d.%02d", rand.Intn(5000), rand.Intn(100)),
			Currency:          "USD",
		}, userID)
		stats.record(err)
		if err == nil {
			disputes.Add(d.ID)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
	return nil
}

// Transitioner fires random moves at random disputes. A move reported as
// applied must leave the dispute in the requested status.
func Transitioner(ctx context.Context, svc *dispute.Service, orgID, userID string, role org.Role, disputes *Pool, stats *Stats, stop <-chan struct{}) error {
	statuses := dispute.Statuses()
	for !stopped(ctx, stop) {
		id := disputes.Pick()
		if id == "" {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		to := statuses[rand.Intn(len(statuses))]
		d, err := svc.Transition(ctx, dispute.TransitionParams{
			OrganizationID: orgID,
			DisputeID:      id,
			To:             to,
			Reason:         "stress",
			ActorUserID:    userID,
			ActorRole:      string(role),
		})
		stats.record(err)
		if err == nil && d.Status != to {
			return fmt.Errorf("transition %s to %s returned status %s", id, to, d.Status)
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
	return nil
}

// Assigner reassigns random disputes among the given agents.
func Assigner(ctx context.Context, svc *dispute.Service, orgID, supervisorID string, agentIDs []string, disputes *Pool, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := disputes.Pick()
		if id == "" || len(agentIDs) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		_, err := svc.Assign(ctx, orgID, id, agentIDs[rand.Intn(len(agentIDs))], supervisorID)
		stats.record(err)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
	return nil
}

// Escalator runs the SLA checks back to back so system escalations race
// with human moves.
func Escalator(ctx context.Context, sched *scheduler.Scheduler, orgID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		res, err := sched.CheckEscalations(ctx, orgID)
		stats.Applied.Add(int64(res.Acted))
		if err != nil {
			stats.Unexpected.Add(int64(res.Failed))
		}
		if _, err := sched.CheckBreaches(ctx, orgID); err != nil && ctx.Err() == nil {
			stats.Unexpected.Add(1)
		}
		time.Sleep(time.Duration(50+rand.Intn(50)) * time.Millisecond)
	}
	return nil
}
