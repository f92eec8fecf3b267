package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"disputeflow/dispute"
	"disputeflow/org"
)

type createDisputeRequest struct {
	ExternalID  string      `json:"externalId"`
	Reason      string      `json:"reason"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	SLAPolicyID string      `json:"slaPolicyId"`
}

type transitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

type disputeResponse struct {
	ID          string               `json:"id"`
	ExternalID  string               `json:"externalId,omitempty"`
	Reason      string               `json:"reason"`
	Amount      string               `json:"amount"`
	Currency    string               `json:"currency"`
	Status      string               `json:"status"`
	CreatedBy   string               `json:"createdBy"`
	AssignedTo  *string              `json:"assignedTo"`
	SLAPolicyID *string              `json:"slaPolicyId"`
	SLADeadline string               `json:"slaDeadline"`
	CreatedAt   string               `json:"createdAt"`
	UpdatedAt   string               `json:"updatedAt"`
	History     []transitionResponse `json:"history,omitempty"`
}

type transitionResponse struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	ActorID   *string `json:"actorId"`
	ActorType string  `json:"actorType"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"createdAt"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		ID:          d.ID,
		ExternalID:  d.ExternalReference,
		Reason:      d.Reason,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Status:      string(d.Status),
		CreatedBy:   d.CreatedBy,
		AssignedTo:  d.AssignedTo,
		SLAPolicyID: d.SLAPolicyID,
		SLADeadline: d.SLADeadline.UTC().Format(time.RFC3339),
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toTransitionResponse(t dispute.Transition) transitionResponse {
	return transitionResponse{
		ID:        t.ID,
		From:      string(t.From),
		To:        string(t.To),
		ActorID:   t.ActorID,
		ActorType: string(t.ActorType),
		Reason:    t.Reason,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var req createDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	p := principal(r)
	d, err := s.disputes.Create(r.Context(), p.OrganizationID, dispute.CreateParams{
		ExternalReference: req.ExternalID,
		Reason:            req.Reason,
		Amount:            req.Amount.String(),
		Currency:          req.Currency,
		SLAPolicyID:       req.SLAPolicyID,
	}, p.UserID)
	if err != nil {
		s.writeMappedError(r.Context(), w, "create_dispute", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dispute.Filter{
		AssigneeID: strings.TrimSpace(q.Get("assignee")),
		Limit:      parseIntDefault(q.Get("limit"), 50),
		Offset:     parseIntDefault(q.Get("offset"), 0),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st := dispute.Status(strings.ToUpper(raw))
		f.Status = &st
	}
	if raw := strings.TrimSpace(q.Get("slaOverdue")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "slaOverdue must be true or false")
			return
		}
		f.SLAOverdue = &v
	}

	items, err := s.disputes.List(r.Context(), principal(r).OrganizationID, f)
	if err != nil {
		s.writeMappedError(r.Context(), w, "list_disputes", err)
		return
	}
	out := make([]disputeResponse, 0, len(items))
	for _, d := range items {
		out = append(out, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	orgID := principal(r).OrganizationID
	id := chi.URLParam(r, "id")

	d, err := s.disputes.Get(r.Context(), orgID, id)
	if err != nil {
		s.writeMappedError(r.Context(), w, "get_dispute", err)
		return
	}
	history, err := s.disputes.History(r.Context(), orgID, id)
	if err != nil {
		s.writeMappedError(r.Context(), w, "get_dispute", err)
		return
	}

	resp := toDisputeResponse(d)
	resp.History = make([]transitionResponse, 0, len(history))
	for _, t := range history {
		resp.History = append(resp.History, toTransitionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNextStates(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	states, err := s.disputes.NextStates(r.Context(), p.OrganizationID, chi.URLParam(r, "id"), p.Role)
	if err != nil {
		s.writeMappedError(r.Context(), w, "next_states", err)
		return
	}
	out := make([]string, 0, len(states))
	for _, st := range states {
		out = append(out, string(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nextStates": out})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "to is required")
		return
	}

	p := principal(r)
	d, err := s.disputes.Transition(r.Context(), dispute.TransitionParams{
		OrganizationID: p.OrganizationID,
		DisputeID:      chi.URLParam(r, "id"),
		To:             dispute.Status(strings.ToUpper(strings.TrimSpace(req.To))),
		Reason:         req.Reason,
		ActorUserID:    p.UserID,
		ActorRole:      string(p.Role),
	})
	if err != nil {
		s.writeMappedError(r.Context(), w, "transition_dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if strings.TrimSpace(req.AssigneeID) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "assigneeId is required")
		return
	}

	p := principal(r)
	d, err := s.disputes.Assign(r.Context(), p.OrganizationID, chi.URLParam(r, "id"), strings.TrimSpace(req.AssigneeID), p.UserID)
	if err != nil {
		s.writeMappedError(r.Context(), w, "assign_dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleAddOrganizationJobs(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	orgID := chi.URLParam(r, "id")
	if p.Role != org.RoleSystem && (p.Role != org.RoleSupervisor || p.OrganizationID != orgID) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "not allowed")
		return
	}
	if err := s.scheduler.AddOrganizationJobs(r.Context(), orgID); err != nil {
		s.writeMappedError(r.Context(), w, "add_organization_jobs", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
