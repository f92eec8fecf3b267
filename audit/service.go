package audit

import "context"

// Reader abstracts repository queries for the service.
type Reader interface {
	List(ctx context.Context, orgID string, f Filter) ([]Entry, error)
	Get(ctx context.Context, orgID, id string) (Entry, error)
}

// Service exposes the audit trail of one organization at a time.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, orgID string, f Filter) ([]Entry, error) {
	return s.repo.List(ctx, orgID, f)
}

func (s *Service) Get(ctx context.Context, orgID, id string) (Entry, error) {
	return s.repo.Get(ctx, orgID, id)
}
