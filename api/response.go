package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"disputeflow/audit"
	"disputeflow/dispute"
	"disputeflow/org"
	"disputeflow/sla"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{Status: "error", Code: code, Message: message})
}

func (s *Server) writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "request failed",
		"module", "api",
		"operation", operation,
		"outcome", "failure",
		"status_code", status,
		"code", code,
		"request_id", middleware.GetReqID(ctx),
		"error", err,
	)
	writeError(w, status, code, msg)
}

func mapDomainError(err error) (int, string, string) {
	var te *dispute.TransitionError
	switch {
	case errors.As(err, &te):
		return http.StatusUnprocessableEntity, te.Code(), te.Error()
	case errors.Is(err, dispute.ErrNotFound), errors.Is(err, sla.ErrNotFound),
		errors.Is(err, audit.ErrNotFound), errors.Is(err, org.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, dispute.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "not allowed"
	case errors.Is(err, dispute.ErrConflict):
		return http.StatusConflict, "CONFLICT", "concurrent modification, retry the request"
	case errors.Is(err, sla.ErrInUse):
		return http.StatusConflict, "POLICY_IN_USE", "policy is referenced by disputes"
	case errors.Is(err, dispute.ErrInvalidInput), errors.Is(err, sla.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
