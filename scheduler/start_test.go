package scheduler

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestStartIgnoresJobsAfterShutdownBegins(t *testing.T) {
	s := New(NewMemoryRegistry(), nil, nil, nil, nil, nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.runCtx = gctx
	cancel()

	s.start(Job{Name: JobCheckEscalations, OrganizationID: "org-a", Interval: time.Minute})
	if got := s.Running(); len(got) != 0 {
		t.Fatalf("expected no job started on a cancelled run, got %v", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
