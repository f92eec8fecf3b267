package sla

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store persists policies. Every operation is scoped to an organization.
type Store interface {
	Get(ctx context.Context, orgID, id string) (Policy, error)
	Default(ctx context.Context, orgID string) (Policy, error)
	List(ctx context.Context, orgID string) ([]Policy, error)
	Create(ctx context.Context, p Policy) (Policy, error)
	Update(ctx context.Context, p Policy) (Policy, error)
	Delete(ctx context.Context, orgID, id string) error
}

type Service struct {
	store       Store
	idGenerator func() string
}

type PolicyParams struct {
	Name            string
	ResolutionHours int
	EscalationHours int
	IsDefault       bool
}

func NewService(store Store) *Service {
	return &Service{
		store:       store,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) Create(ctx context.Context, orgID string, params PolicyParams) (Policy, error) {
	if err := params.validate(); err != nil {
		return Policy{}, err
	}
	return s.store.Create(ctx, Policy{
		ID:              s.idGenerator(),
		OrganizationID:  orgID,
		Name:            strings.TrimSpace(params.Name),
		ResolutionHours: params.ResolutionHours,
		EscalationHours: params.EscalationHours,
		IsDefault:       params.IsDefault,
	})
}

func (s *Service) Update(ctx context.Context, orgID, id string, params PolicyParams) (Policy, error) {
	if err := params.validate(); err != nil {
		return Policy{}, err
	}
	return s.store.Update(ctx, Policy{
		ID:              id,
		OrganizationID:  orgID,
		Name:            strings.TrimSpace(params.Name),
		ResolutionHours: params.ResolutionHours,
		EscalationHours: params.EscalationHours,
		IsDefault:       params.IsDefault,
	})
}

func (s *Service) Get(ctx context.Context, orgID, id string) (Policy, error) {
	return s.store.Get(ctx, orgID, id)
}

func (s *Service) List(ctx context.Context, orgID string) ([]Policy, error) {
	return s.store.List(ctx, orgID)
}

func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.store.Delete(ctx, orgID, id)
}

func (p PolicyParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if p.ResolutionHours <= 0 {
		return fmt.Errorf("%w: resolution hours must be positive", ErrInvalidInput)
	}
	if p.EscalationHours <= 0 {
		return fmt.Errorf("%w: escalation hours must be positive", ErrInvalidInput)
	}
	return nil
}
