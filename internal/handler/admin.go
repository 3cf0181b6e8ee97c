package handler

import (
	"net/http"

	"github.com/pavelanni/papergen/internal/model"
)

type createUserRequest struct {
	signupRequest
	Role model.UserRole `json:"role"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}
	switch req.Role {
	case "":
		req.Role = model.RoleUser
	case model.RoleUser, model.RoleAdmin:
	default:
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}
	user, ok := h.createAccount(w, r, req.signupRequest, req.Role)
	if !ok {
		return
	}
	h.log.Info("admin created user", "id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "userID")
	if !ok {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidID")
		return
	}
	// Admins cannot lock themselves out.
	if id == model.UserFromContext(r.Context()).ID {
		writeMessage(w, r, http.StatusForbidden, kindForbidden, "Forbidden")
		return
	}
	user, err := h.store.GetUserByID(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		writeMessage(w, r, http.StatusNotFound, kindNotFound, "UserNotFound")
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		h.log.Error("failed to toggle user active", "id", id, "error", err)
		h.writeError(w, r, err)
		return
	}
	user.Active = !user.Active
	h.log.Info("toggled user", "id", id, "active", user.Active)
	writeJSON(w, http.StatusOK, user)
}
