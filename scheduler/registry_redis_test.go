package scheduler

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestRedisRegistry(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := ConnectRedis(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	orgID := fmt.Sprintf("org-%d", time.Now().UnixNano())
	r := NewRedisRegistry(client, "test-replica")
	job := Job{Name: JobCheckEscalations, OrganizationID: orgID, Interval: time.Minute}
	t.Cleanup(func() { _ = r.Remove(context.Background(), job.Key()) })

	for i := 0; i < 2; i++ {
		if err := r.Put(ctx, job); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	jobs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	count := 0
	for _, j := range jobs {
		if j.OrganizationID == orgID {
			count++
			if j != job {
				t.Fatalf("round trip changed job: %+v", j)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected idempotent put, found %d copies", count)
	}

	ok, err := r.Claim(ctx, job.Key(), time.Second)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	if ok, _ := r.Claim(ctx, job.Key(), time.Second); ok {
		t.Fatal("second claim inside the lease must lose")
	}

	if err := r.Remove(ctx, job.Key()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := r.Claim(ctx, job.Key(), time.Second); !ok {
		t.Fatal("remove should drop the lease")
	}
}
