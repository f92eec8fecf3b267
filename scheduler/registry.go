package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job names.
const (
	JobCheckEscalations = "check-escalations"
	JobCheckBreaches    = "check-breaches"
)

// Job is one periodic SLA check for one organization.
type Job struct {
	Name           string        `json:"name"`
	OrganizationID string        `json:"organizationId"`
	Interval       time.Duration `json:"interval"`
}

// Key identifies a job across restarts and replicas.
func (j Job) Key() string {
	return j.Name + ":" + j.OrganizationID
}

// Registry is the durable set of scheduled jobs shared by replicas.
type Registry interface {
	List(ctx context.Context) ([]Job, error)
	// Put inserts or replaces the job with the same key.
	Put(ctx context.Context, job Job) error
	Remove(ctx context.Context, key string) error
	// Claim takes the run lease for key for window. It reports false when
	// another holder already owns the lease.
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
}

// MemoryRegistry keeps jobs in process. It suits single-replica
// deployments and tests.
type MemoryRegistry struct {
	mu     sync.Mutex
	jobs   map[string]Job
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs:   map[string]Job{},
		leases: map[string]time.Time{},
		now:    time.Now,
	}
}

func (r *MemoryRegistry) List(context.Context) ([]Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sortJobs(out)
	return out, nil
}

func (r *MemoryRegistry) Put(_ context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Key()] = job
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, key)
	delete(r.leases, key)
	return nil
}

func (r *MemoryRegistry) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if until, ok := r.leases[key]; ok && now.Before(until) {
		return false, nil
	}
	r.leases[key] = now.Add(window)
	return true, nil
}

const (
	redisJobsKey     = "sla:jobs"
	redisLeasePrefix = "sla:lease:"
)

// RedisRegistry stores jobs in one Redis hash and takes leases with
// SET NX PX so only one replica runs a given tick.
type RedisRegistry struct {
	client *redis.Client
	owner  string
}

// NewRedisRegistry builds a registry; owner is written as the lease value
// to make lease holders visible when debugging.
func NewRedisRegistry(client *redis.Client, owner string) *RedisRegistry {
	return &RedisRegistry{client: client, owner: owner}
}

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("scheduler: ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]Job, error) {
	data, err := r.client.HGetAll(ctx, redisJobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	out := make([]Job, 0, len(data))
	for key, raw := range data {
		var j Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, fmt.Errorf("scheduler: decode job %s: %w", key, err)
		}
		out = append(out, j)
	}
	sortJobs(out)
	return out, nil
}

func (r *RedisRegistry) Put(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("scheduler: encode job: %w", err)
	}
	if err := r.client.HSet(ctx, redisJobsKey, job.Key(), raw).Err(); err != nil {
		return fmt.Errorf("scheduler: put job %s: %w", job.Key(), err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, redisJobsKey, key)
		p.Del(ctx, redisLeasePrefix+key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler: remove job %s: %w", key, err)
	}
	return nil
}

func (r *RedisRegistry) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisLeasePrefix+key, r.owner, window).Result()
	if err != nil {
		return false, fmt.Errorf("scheduler: claim %s: %w", key, err)
	}
	return ok, nil
}

func (j Job) validate() error {
	if j.Name == "" || j.OrganizationID == "" {
		return errors.New("scheduler: job name and organization are required")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", j.Key())
	}
	return nil
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Key() < jobs[k].Key() })
}
