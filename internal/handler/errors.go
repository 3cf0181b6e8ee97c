package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/pavelanni/papergen/internal/apperr"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	Field     string `json:"field,omitempty"`
	Expected  *int   `json:"expected,omitempty"`
	Observed  *int   `json:"observed,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Kinds for failures outside the pipeline taxonomy.
const (
	kindInvalid      = "invalid_request"
	kindUnauthorized = "unauthorized"
	kindForbidden    = "forbidden"
	kindNotFound     = "not_found"
	kindInternal     = "internal"
)

// writeMessage writes a localized error that did not come from the pipeline.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, kind, msgID string) {
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID), Kind: kind})
}

// writeInvalid writes a localized 400 with template data.
func writeInvalid(w http.ResponseWriter, r *http.Request, msgID string, data map[string]any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.Td(r.Context(), msgID, data), Kind: kindInvalid})
}

// writeError maps a pipeline failure to its HTTP status. Caller mistakes are
// 400, anything the model got wrong or failed to deliver is 502, and a
// gateway deadline is 504.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	resp := errorResponse{Kind: apperr.KindName(err), Retryable: apperr.Retryable(err)}

	var ae *apperr.Error
	if !errors.As(err, &ae) {
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
		resp.Error = appI18n.T(ctx, "InternalError")
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		status = http.StatusBadRequest
		resp.Error = ae.Msg
	case errors.Is(err, apperr.ErrGateway):
		resp.Error = appI18n.T(ctx, "GatewayUnavailable")
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
			resp.Error = appI18n.T(ctx, "GatewayTimeout")
		}
	default:
		resp.Error = appI18n.T(ctx, "InvalidReply")
		resp.Detail = ae.Msg
		resp.Field = ae.Field
		if errors.Is(err, apperr.ErrCountMismatch) {
			resp.Expected = &ae.Expected
			resp.Observed = &ae.Observed
		}
	}
	h.log.Warn("request failed", "path", r.URL.Path, "status", status, "kind", resp.Kind, "error", err)
	writeJSON(w, status, resp)
}
