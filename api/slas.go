package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"disputeflow/sla"
)

type policyRequest struct {
	Name            string `json:"name"`
	ResolutionHours int    `json:"resolutionHours"`
	EscalationHours int    `json:"escalationHours"`
	IsDefault       bool   `json:"isDefault"`
}

func (p policyRequest) params() sla.PolicyParams {
	return sla.PolicyParams{
		Name:            p.Name,
		ResolutionHours: p.ResolutionHours,
		EscalationHours: p.EscalationHours,
		IsDefault:       p.IsDefault,
	}
}

type policyResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ResolutionHours int    `json:"resolutionHours"`
	EscalationHours int    `json:"escalationHours"`
	IsDefault       bool   `json:"isDefault"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func toPolicyResponse(p sla.Policy) policyResponse {
	return policyResponse{
		ID:              p.ID,
		Name:            p.Name,
		ResolutionHours: p.ResolutionHours,
		EscalationHours: p.EscalationHours,
		IsDefault:       p.IsDefault,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	items, err := s.policies.List(r.Context(), principal(r).OrganizationID)
	if err != nil {
		s.writeMappedError(r.Context(), w, "list_policies", err)
		return
	}
	out := make([]policyResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toPolicyResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": out})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.policies.Get(r.Context(), principal(r).OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeMappedError(r.Context(), w, "get_policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(p))
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	p, err := s.policies.Create(r.Context(), principal(r).OrganizationID, req.params())
	if err != nil {
		s.writeMappedError(r.Context(), w, "create_policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyResponse(p))
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	p, err := s.policies.Update(r.Context(), principal(r).OrganizationID, chi.URLParam(r, "id"), req.params())
	if err != nil {
		s.writeMappedError(r.Context(), w, "update_policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyResponse(p))
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.policies.Delete(r.Context(), principal(r).OrganizationID, chi.URLParam(r, "id")); err != nil {
		s.writeMappedError(r.Context(), w, "delete_policy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
