package handler

import (
	"net/http"

	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
)

type storedEvaluationResponse struct {
	model.Evaluation
	GradeLabel string `json:"grade_label"`
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	evals, err := h.store.ListEvaluations(user.ID, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals, "count": len(evals)})
}

func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "evaluationID")
	if !ok {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidID")
		return
	}
	eval, err := h.store.GetEvaluation(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if eval == nil {
		writeMessage(w, r, http.StatusNotFound, kindNotFound, "EvaluationNotFound")
		return
	}
	if eval.OwnerID != model.UserFromContext(r.Context()).ID {
		writeMessage(w, r, http.StatusForbidden, kindForbidden, "Forbidden")
		return
	}
	writeJSON(w, http.StatusOK, storedEvaluationResponse{
		Evaluation: *eval,
		GradeLabel: appI18n.GradeLabel(r.Context(), eval.Result.Grade),
	})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	stats, err := h.store.Dashboard(user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
