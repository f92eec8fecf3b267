package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
	"disputeflow/notify"
	"disputeflow/obs"
	"disputeflow/org"
)

// ErrNotFound is returned for organizations the directory does not know.
var ErrNotFound = org.ErrNotFound

var (
	escalationStatuses = []dispute.Status{
		dispute.StatusOpen,
		dispute.StatusInProgress,
		dispute.StatusWaitingForCustomer,
	}
	breachStatuses = []dispute.Status{
		dispute.StatusOpen,
		dispute.StatusInProgress,
		dispute.StatusWaitingForCustomer,
		dispute.StatusEscalated,
	}
)

// Workflow is the part of the dispute service the scheduler drives.
type Workflow interface {
	Tracked(ctx context.Context, orgID string, statuses []dispute.Status) ([]dispute.Tracked, error)
	SystemTransition(ctx context.Context, orgID, id string, to dispute.Status, reason string) (dispute.Dispute, error)
}

type Config struct {
	EscalationInterval time.Duration
	BreachInterval     time.Duration
	ResyncInterval     time.Duration
	ItemTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.EscalationInterval <= 0 {
		c.EscalationInterval = 5 * time.Minute
	}
	if c.BreachInterval <= 0 {
		c.BreachInterval = 10 * time.Minute
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = time.Minute
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 10 * time.Second
	}
	return c
}

// Result summarizes one check for one organization.
type Result struct {
	Processed int
	Acted     int
	Failed    int
}

// Scheduler runs the SLA checks of every organization on fixed intervals.
type Scheduler struct {
	registry  Registry
	workflow  Workflow
	directory org.Directory
	notifier  notify.Emitter
	logger    *slog.Logger
	metrics   *obs.Metrics
	cfg       Config
	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu      sync.Mutex
	group   *errgroup.Group
	runCtx  context.Context
	running map[string]runningJob
}

type runningJob struct {
	interval time.Duration
	cancel   context.CancelFunc
}

func New(registry Registry, workflow Workflow, directory org.Directory, notifier notify.Emitter, logger *slog.Logger, metrics *obs.Metrics, cfg Config) *Scheduler {
	return &Scheduler{
		registry:  registry,
		workflow:  workflow,
		directory: directory,
		notifier:  notifier,
		logger:    obs.OrDefault(logger),
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		running: map[string]runningJob{},
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithTicker replaces the ticker factory; fn returns the tick channel and
// a stop function.
func (s *Scheduler) WithTicker(fn func(time.Duration) (<-chan time.Time, func())) *Scheduler {
	s.newTicker = fn
	return s
}

func (s *Scheduler) jobsFor(orgID string) []Job {
	return []Job{
		{Name: JobCheckEscalations, OrganizationID: orgID, Interval: s.cfg.EscalationInterval},
		{Name: JobCheckBreaches, OrganizationID: orgID, Interval: s.cfg.BreachInterval},
	}
}

// Init replaces the registry contents with two jobs per known
// organization. Running it again yields the same set.
func (s *Scheduler) Init(ctx context.Context) error {
	existing, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: init: %w", err)
	}
	for _, j := range existing {
		if err := s.registry.Remove(ctx, j.Key()); err != nil {
			return fmt.Errorf("scheduler: init: %w", err)
		}
	}

	orgs, err := s.directory.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: init: list organizations: %w", err)
	}
	for _, o := range orgs {
		for _, j := range s.jobsFor(o.ID) {
			if err := s.registry.Put(ctx, j); err != nil {
				return fmt.Errorf("scheduler: init: %w", err)
			}
		}
	}

	s.logger.InfoContext(ctx, "sla jobs initialized",
		"module", "scheduler",
		"operation", "init",
		"organizations", len(orgs),
		"jobs", 2*len(orgs),
	)
	return nil
}

// AddOrganizationJobs registers both checks for a newly created
// organization and starts them if the scheduler is running.
func (s *Scheduler) AddOrganizationJobs(ctx context.Context, orgID string) error {
	if _, err := s.directory.GetOrganization(ctx, orgID); err != nil {
		return fmt.Errorf("scheduler: add jobs for %s: %w", orgID, err)
	}
	for _, j := range s.jobsFor(orgID) {
		if err := s.registry.Put(ctx, j); err != nil {
			return fmt.Errorf("scheduler: add jobs for %s: %w", orgID, err)
		}
		s.start(j)
	}
	return nil
}

// Run starts every registered job and keeps the running set in line with
// the registry until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.group = g
	s.runCtx = gctx
	s.mu.Unlock()

	if err := s.resync(gctx); err != nil {
		s.logger.ErrorContext(gctx, "initial job sync failed", "module", "scheduler", "operation", "resync", "error", err)
	}

	g.Go(func() error {
		ticks, stop := s.newTicker(s.cfg.ResyncInterval)
		defer stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticks:
				if err := s.resync(gctx); err != nil {
					s.logger.WarnContext(gctx, "job sync failed", "module", "scheduler", "operation", "resync", "error", err)
				}
			}
		}
	})

	err := g.Wait()

	s.mu.Lock()
	s.group = nil
	s.runCtx = nil
	s.running = map[string]runningJob{}
	s.mu.Unlock()
	return err
}

// resync starts registered jobs that are not running and stops running
// jobs that were removed or rescheduled.
func (s *Scheduler) resync(ctx context.Context) error {
	jobs, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	wanted := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		wanted[j.Key()] = j
	}

	s.mu.Lock()
	for key, rj := range s.running {
		if j, ok := wanted[key]; !ok || j.Interval != rj.interval {
			rj.cancel()
			delete(s.running, key)
		}
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.start(j)
	}
	return nil
}

func (s *Scheduler) start(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Once runCtx is cancelled the group may already be past Wait.
	if s.group == nil || s.runCtx.Err() != nil {
		return
	}
	if _, ok := s.running[job.Key()]; ok {
		return
	}

	jobCtx, cancel := context.WithCancel(s.runCtx)
	s.running[job.Key()] = runningJob{interval: job.Interval, cancel: cancel}
	ticks, stop := s.newTicker(job.Interval)

	s.group.Go(func() error {
		defer stop()
		defer cancel()
		for {
			select {
			case <-jobCtx.Done():
				return nil
			case <-ticks:
				s.tick(jobCtx, job)
			}
		}
	})
}

// Running reports the keys of the jobs started in this process.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for k := range s.running {
		out = append(out, k)
	}
	return out
}

// Jobs reports the keys held by the registry, sorted.
func (s *Scheduler) Jobs(ctx context.Context) ([]string, error) {
	jobs, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	keys := make([]string, 0, len(jobs))
	for _, j := range jobs {
		keys = append(keys, j.Key())
	}
	sort.Strings(keys)
	return keys, nil
}

// tick runs one job once if this replica wins the lease for the interval.
// Failures are logged and metered; the next tick retries.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	claimed, err := s.registry.Claim(ctx, job.Key(), leaseWindow(job.Interval))
	if err != nil {
		s.logger.WarnContext(ctx, "sla job lease failed",
			"module", "scheduler",
			"operation", job.Name,
			"organization_id", job.OrganizationID,
			"error", err,
		)
		return
	}
	if !claimed {
		return
	}
	_, _ = s.RunJob(ctx, job)
}

func leaseWindow(interval time.Duration) time.Duration {
	return interval - interval/10
}

// RunJob executes one job synchronously.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (Result, error) {
	start := time.Now()
	var (
		res Result
		err error
	)
	switch job.Name {
	case JobCheckEscalations:
		res, err = s.CheckEscalations(ctx, job.OrganizationID)
	case JobCheckBreaches:
		res, err = s.CheckBreaches(ctx, job.OrganizationID)
	default:
		err = fmt.Errorf("scheduler: unknown job %q", job.Name)
	}
	s.metrics.CheckFinished(job.Name, time.Since(start), res.Acted, err)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.logger.InfoContext(ctx, "sla check finished",
		"module", "scheduler",
		"operation", job.Name,
		"outcome", outcome,
		"organization_id", job.OrganizationID,
		"processed", res.Processed,
		"acted", res.Acted,
		"failed", res.Failed,
		"error", err,
	)
	return res, err
}

// CheckEscalations escalates every active dispute of orgID whose age has
// reached its policy's escalation threshold and warns its assignee.
func (s *Scheduler) CheckEscalations(ctx context.Context, orgID string) (Result, error) {
	tracked, err := s.workflow.Tracked(ctx, orgID, escalationStatuses)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: escalation check %s: %w", orgID, err)
	}

	now := s.now()
	var (
		res  Result
		errs []error
	)
	for _, t := range tracked {
		res.Processed++
		if !t.Policy.EscalationDue(t.Dispute.CreatedAt, now) {
			continue
		}
		acted, err := s.escalate(ctx, t)
		if err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		if acted {
			res.Acted++
		}
	}
	return res, errors.Join(errs...)
}

func (s *Scheduler) escalate(ctx context.Context, t dispute.Tracked) (bool, error) {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	reason := fmt.Sprintf("SLA escalation threshold (%dh) reached", t.Policy.EscalationHours)
	d, err := s.workflow.SystemTransition(itemCtx, t.Dispute.OrganizationID, t.Dispute.ID, dispute.StatusEscalated, reason)
	if errors.Is(err, dispute.ErrInvalidTransition) {
		// Moved out of an escalatable status since it was listed.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("escalate %s: %w", t.Dispute.ID, err)
	}

	if d.AssignedTo != nil && s.notifier != nil {
		if err := s.notifier.Notify(itemCtx, notify.SLAWarning(*d.AssignedTo, d.ID, d.ExternalReference)); err != nil {
			s.logger.WarnContext(ctx, "sla warning notification failed",
				"module", "scheduler",
				"operation", JobCheckEscalations,
				"dispute_id", d.ID,
				"error", err,
			)
		}
	}
	return true, nil
}

// CheckBreaches alerts every supervisor of orgID about active disputes past
// their resolution window. It never changes dispute status.
func (s *Scheduler) CheckBreaches(ctx context.Context, orgID string) (Result, error) {
	tracked, err := s.workflow.Tracked(ctx, orgID, breachStatuses)
	if err != nil {
		return Result{}, fmt.Errorf("scheduler: breach check %s: %w", orgID, err)
	}

	now := s.now()
	var (
		res         Result
		errs        []error
		supervisors []org.User
		loaded      bool
	)
	for _, t := range tracked {
		res.Processed++
		if !t.Policy.Breached(t.Dispute.CreatedAt, now) {
			continue
		}
		if !loaded {
			supervisors, err = s.directory.ListUsersByRole(ctx, orgID, org.RoleSupervisor)
			if err != nil {
				return res, fmt.Errorf("scheduler: breach check %s: list supervisors: %w", orgID, err)
			}
			loaded = true
		}
		if s.notifier == nil || len(supervisors) == 0 {
			s.logger.WarnContext(ctx, "sla breach has no recipients",
				"module", "scheduler",
				"operation", JobCheckBreaches,
				"organization_id", orgID,
				"dispute_id", t.Dispute.ID,
			)
			continue
		}
		if err := s.alert(ctx, t.Dispute, supervisors); err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		res.Acted++
	}
	return res, errors.Join(errs...)
}

func (s *Scheduler) alert(ctx context.Context, d dispute.Dispute, supervisors []org.User) error {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	var errs []error
	for _, u := range supervisors {
		if err := s.notifier.Notify(itemCtx, notify.SLABreach(u.ID, d.ID, d.ExternalReference)); err != nil {
			errs = append(errs, fmt.Errorf("breach alert %s to %s: %w", d.ID, u.ID, err))
		}
	}
	return errors.Join(errs...)
}
