package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/pavelanni/papergen/internal/auth"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
)

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

type claimsCtxKey struct{}

type signupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        *model.User `json:"user"`
}

// requireAuth is middleware that checks for a valid, unrevoked bearer token
// belonging to an active user.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
			return
		}

		claims, err := h.issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			h.log.Debug("rejected token", "error", err)
			writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
			return
		}
		revoked, err := h.store.IsTokenRevoked(claims.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if revoked {
			writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
			return
		}
		user, err := h.store.GetUserByID(userID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if user == nil || !user.Active {
			writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = context.WithValue(ctx, claimsCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "Unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, r, http.StatusForbidden, kindForbidden, "Forbidden")
		})
	}
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}
	user, ok := h.createAccount(w, r, req, model.RoleUser)
	if !ok {
		return
	}
	h.writeToken(w, r, http.StatusCreated, user)
}

// createAccount validates req and inserts an active user with the given
// role. Email and username must both be unused. It writes the error response
// itself when it returns false.
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request, req signupRequest, role model.UserRole) (*model.User, bool) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if msgID, data := validateSignup(req); msgID != "" {
		writeInvalid(w, r, msgID, data)
		return nil, false
	}

	existing, err := h.store.GetUserByEmail(req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if existing != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "EmailTaken")
		return nil, false
	}
	existing, err = h.store.GetUserByUsername(req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if existing != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "UsernameTaken")
		return nil, false
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	id, err := h.store.CreateUser(model.User{
		Email:        req.Email,
		Username:     req.Username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	})
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	user, err := h.store.GetUserByID(id)
	if err != nil || user == nil {
		h.writeError(w, r, fmt.Errorf("reload user %d: %w", id, err))
		return nil, false
	}
	return user, true
}

// validateSignup returns the message ID of the first problem with req.
func validateSignup(req signupRequest) (string, map[string]any) {
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		return "EmailRequired", nil
	}
	if len([]rune(req.Username)) < minUsernameLen {
		return "UsernameTooShort", map[string]any{"Min": minUsernameLen}
	}
	if len(req.Password) < minPasswordLen {
		return "PasswordTooShort", map[string]any{"Min": minPasswordLen}
	}
	return "", nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}

	user, err := h.store.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil || !user.Active || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeMessage(w, r, http.StatusUnauthorized, kindUnauthorized, "InvalidCredentials")
		return
	}
	h.log.Info("user logged in", "user_id", user.ID)
	h.writeToken(w, r, http.StatusOK, user)
}

func (h *Handler) writeToken(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, claims, err := h.issuer.Issue(*user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        user,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := r.Context().Value(claimsCtxKey{}).(*auth.Claims)
	user := model.UserFromContext(r.Context())
	if claims != nil && user != nil {
		expires := time.Now().Add(h.issuer.TTL())
		if claims.ExpiresAt != nil {
			expires = claims.ExpiresAt.Time
		}
		if err := h.store.RevokeToken(claims.ID, user.ID, expires); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "LoggedOut")})
}
