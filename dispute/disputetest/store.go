// Package disputetest provides an in-memory dispute.Store that also serves
// as an org.Directory, for tests of the workflow and the scheduler.
package disputetest

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/org"
	"disputeflow/sla"
)

type state struct {
	orgs        map[string]org.Organization
	users       map[string]org.User
	policies    map[string]sla.Policy
	disputes    map[string]dispute.Dispute
	transitions []dispute.Transition
	audits      []audit.Entry
}

func (s *state) clone() *state {
	out := &state{
		orgs:        make(map[string]org.Organization, len(s.orgs)),
		users:       make(map[string]org.User, len(s.users)),
		policies:    make(map[string]sla.Policy, len(s.policies)),
		disputes:    make(map[string]dispute.Dispute, len(s.disputes)),
		transitions: slices.Clone(s.transitions),
		audits:      slices.Clone(s.audits),
	}
	for k, v := range s.orgs {
		out.orgs[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.policies {
		out.policies[k] = v
	}
	for k, v := range s.disputes {
		out.disputes[k] = v
	}
	return out
}

// Store serializes transactions and publishes their writes only on commit.
type Store struct {
	mu    sync.Mutex
	state *state

	// AuditErr, when set, fails every audit append.
	AuditErr error
	// LockErr fails Lock for the given dispute ids.
	LockErr map[string]error
	// OnLock, when set, runs after Lock has read the dispute.
	OnLock func(id string)
	// Conflicts is the number of upcoming transactions that fail with
	// dispute.ErrConflict at commit.
	Conflicts int
	// TrackedErr fails ListTracked for the given organization ids.
	TrackedErr map[string]error

	txCount int
}

func New() *Store {
	return &Store{
		state: &state{
			orgs:     map[string]org.Organization{},
			users:    map[string]org.User{},
			policies: map[string]sla.Policy{},
			disputes: map[string]dispute.Dispute{},
		},
		LockErr:    map[string]error{},
		TrackedErr: map[string]error{},
	}
}

func (s *Store) AddOrganization(o org.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orgs[o.ID] = o
}

func (s *Store) AddUser(u org.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (s *Store) AddPolicy(p sla.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.policies[p.ID] = p
}

// PutDispute stores d as is, bypassing the workflow.
func (s *Store) PutDispute(d dispute.Dispute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.disputes[d.ID] = d
}

func (s *Store) Transitions(disputeID string) []dispute.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispute.Transition
	for _, t := range s.state.transitions {
		if t.DisputeID == disputeID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) Audits() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.audits)
}

// TxCount is the number of transactions started so far.
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) InTx(ctx context.Context, fn func(dispute.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.state.clone()
	if err := fn(&memTx{store: s, st: staged}); err != nil {
		return err
	}
	if s.Conflicts > 0 {
		s.Conflicts--
		return dispute.ErrConflict
	}
	s.state = staged
	return nil
}

func (s *Store) Get(_ context.Context, orgID, id string) (dispute.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.disputes[id]
	if !ok || d.OrganizationID != orgID {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	return d, nil
}

func (s *Store) List(_ context.Context, orgID string, f dispute.Filter, now time.Time) ([]dispute.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []dispute.Dispute
	for _, d := range s.state.disputes {
		if d.OrganizationID != orgID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		if f.SLAOverdue != nil && d.SLADeadline.Before(now) != *f.SLAOverdue {
			continue
		}
		if f.AssigneeID != "" && (d.AssignedTo == nil || *d.AssignedTo != f.AssigneeID) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	offset := max(f.Offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) History(_ context.Context, disputeID string) ([]dispute.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispute.Transition
	for _, t := range s.state.transitions {
		if t.DisputeID == disputeID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTracked(_ context.Context, orgID string, statuses []dispute.Status) ([]dispute.Tracked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.TrackedErr[orgID]; err != nil {
		return nil, err
	}

	var out []dispute.Tracked
	for _, d := range s.state.disputes {
		if d.OrganizationID != orgID || d.SLAPolicyID == nil || !slices.Contains(statuses, d.Status) {
			continue
		}
		p, ok := s.state.policies[*d.SLAPolicyID]
		if !ok {
			continue
		}
		out = append(out, dispute.Tracked{Dispute: d, Policy: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Dispute.CreatedAt.Equal(out[j].Dispute.CreatedAt) {
			return out[i].Dispute.CreatedAt.Before(out[j].Dispute.CreatedAt)
		}
		return out[i].Dispute.ID < out[j].Dispute.ID
	})
	return out, nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orgs[id]
	if !ok {
		return org.Organization{}, org.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOrganizations(context.Context) ([]org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]org.Organization, 0, len(s.state.orgs))
	for _, o := range s.state.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (org.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	if !ok {
		return org.User{}, org.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsersByRole(_ context.Context, orgID string, role org.Role) ([]org.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []org.User
	for _, u := range s.state.users {
		if u.OrganizationID == orgID && u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTx struct {
	store *Store
	st    *state
}

func (t *memTx) Organization(_ context.Context, id string) (org.Organization, error) {
	o, ok := t.st.orgs[id]
	if !ok {
		return org.Organization{}, org.ErrNotFound
	}
	return o, nil
}

func (t *memTx) User(_ context.Context, id string) (org.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return org.User{}, org.ErrNotFound
	}
	return u, nil
}

func (t *memTx) Policy(_ context.Context, orgID, id string) (sla.Policy, error) {
	p, ok := t.st.policies[id]
	if !ok || p.OrganizationID != orgID {
		return sla.Policy{}, sla.ErrNotFound
	}
	return p, nil
}

func (t *memTx) DefaultPolicy(_ context.Context, orgID string) (sla.Policy, error) {
	for _, p := range t.st.policies {
		if p.OrganizationID == orgID && p.IsDefault {
			return p, nil
		}
	}
	return sla.Policy{}, sla.ErrNotFound
}

func (t *memTx) Append(_ context.Context, e audit.Entry) error {
	if t.store.AuditErr != nil {
		return t.store.AuditErr
	}
	t.st.audits = append(t.st.audits, e)
	return nil
}

func (t *memTx) Insert(_ context.Context, d dispute.Dispute) error {
	if _, ok := t.st.orgs[d.OrganizationID]; !ok {
		return dispute.ErrNotFound
	}
	if _, exists := t.st.disputes[d.ID]; exists {
		return errors.New("disputetest: duplicate dispute id")
	}
	t.st.disputes[d.ID] = d
	return nil
}

func (t *memTx) Lock(_ context.Context, orgID, id string) (dispute.Dispute, error) {
	if err := t.store.LockErr[id]; err != nil {
		return dispute.Dispute{}, err
	}
	d, ok := t.st.disputes[id]
	if !ok || d.OrganizationID != orgID {
		return dispute.Dispute{}, dispute.ErrNotFound
	}
	if t.store.OnLock != nil {
		t.store.OnLock(id)
	}
	return d, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, to dispute.Status, at time.Time) error {
	d, ok := t.st.disputes[id]
	if !ok {
		return dispute.ErrNotFound
	}
	d.Status = to
	d.UpdatedAt = at
	t.st.disputes[id] = d
	return nil
}

func (t *memTx) UpdateAssignee(_ context.Context, id string, assignee *string, at time.Time) error {
	d, ok := t.st.disputes[id]
	if !ok {
		return dispute.ErrNotFound
	}
	if assignee != nil {
		v := *assignee
		assignee = &v
	}
	d.AssignedTo = assignee
	d.UpdatedAt = at
	t.st.disputes[id] = d
	return nil
}

func (t *memTx) AppendTransition(_ context.Context, tr dispute.Transition) error {
	t.st.transitions = append(t.st.transitions, tr)
	return nil
}
