package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"disputeflow/audit"
)

type auditResponse struct {
	ID        string         `json:"id"`
	UserID    *string        `json:"userId"`
	DisputeID *string        `json:"disputeId"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	Changes   map[string]any `json:"changes"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func toAuditResponse(e audit.Entry) auditResponse {
	return auditResponse{
		ID:        e.ID,
		UserID:    e.UserID,
		DisputeID: e.DisputeID,
		Action:    e.Action,
		Entity:    e.Entity,
		Changes:   e.Changes,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.audits.List(r.Context(), principal(r).OrganizationID, audit.Filter{
		UserID:    strings.TrimSpace(q.Get("userId")),
		DisputeID: strings.TrimSpace(q.Get("disputeId")),
		Limit:     parseIntDefault(q.Get("limit"), 100),
		Offset:    parseIntDefault(q.Get("offset"), 0),
	})
	if err != nil {
		s.writeMappedError(r.Context(), w, "list_audit", err)
		return
	}
	out := make([]auditResponse, 0, len(items))
	for _, e := range items {
		out = append(out, toAuditResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	e, err := s.audits.Get(r.Context(), principal(r).OrganizationID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeMappedError(r.Context(), w, "get_audit", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(e))
}
