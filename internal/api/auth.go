package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/kinbanker/tojvs-new/internal/auth"
	"github.com/kinbanker/tojvs-new/internal/domain"
	"github.com/kinbanker/tojvs-new/internal/store"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern    = regexp.MustCompile(`^010-\d{4}-\d{4}$`)
	upperPattern    = regexp.MustCompile(`[A-Z]`)
	lowerPattern    = regexp.MustCompile(`[a-z]`)
	digitPattern    = regexp.MustCompile(`[0-9]`)
)

func validPassword(pw string) bool {
	return len(pw) >= 8 &&
		upperPattern.MatchString(pw) &&
		lowerPattern.MatchString(pw) &&
		digitPattern.MatchString(pw)
}

// RegisterAuthRoutes mounts the unauthenticated auth endpoints.
func (h *Handler) RegisterAuthRoutes(r chi.Router) {
	r.Post("/api/register", h.register)
	r.Post("/api/login", h.login)
	r.Post("/api/refresh", h.refresh)
}

// RegisterUserRoutes mounts endpoints requiring a verified identity.
func (h *Handler) RegisterUserRoutes(r chi.Router) {
	r.Post("/api/logout", h.logout)
	r.Get("/api/profile", h.profile)
}

type registerRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	MarketingConsent bool   `json:"marketingConsent,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !usernamePattern.MatchString(req.Username) {
		Error(w, http.StatusBadRequest, "username must be 3-20 characters of letters, digits or underscore")
		return
	}
	if !validPassword(req.Password) {
		Error(w, http.StatusBadRequest, "password must be at least 8 characters with upper, lower and digit")
		return
	}
	if req.Email != "" && !emailPattern.MatchString(req.Email) {
		Error(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if req.Phone != "" && !phonePattern.MatchString(req.Phone) {
		Error(w, http.StatusBadRequest, "invalid phone format (010-XXXX-XXXX)")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	userID, err := h.repo.CreateUser(r.Context(), &domain.User{
		Username:         req.Username,
		Email:            req.Email,
		Phone:            req.Phone,
		PasswordHash:     hash,
		MarketingConsent: req.MarketingConsent,
	})
	if err != nil {
		Error(w, http.StatusBadRequest, "user already exists")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "userId": userID})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil || req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.repo.GetUserByLogin(r.Context(), req.Username)
	if err != nil || !user.IsActive {
		Error(w, http.StatusUnauthorized, "account not found")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	access, refresh, err := h.tokens.IssueTokens(user)
	if err != nil {
		slog.Error("Failed to issue tokens", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := h.repo.UpdateRefreshToken(r.Context(), user.ID, refresh); err != nil {
		slog.Error("Failed to store refresh token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"accessToken":  access,
		"refreshToken": refresh,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"phone":    user.Phone,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh rotates the token pair. The presented refresh token must
// both verify and match the stored one, so a stolen-then-rotated token
// is unusable.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil || req.RefreshToken == "" {
		Error(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	id, err := h.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		Error(w, http.StatusForbidden, "invalid refresh token")
		return
	}

	user, err := h.repo.GetUser(r.Context(), id.UserID)
	if err != nil || user.RefreshToken != req.RefreshToken {
		Error(w, http.StatusForbidden, "refresh token expired or revoked")
		return
	}

	access, refresh, err := h.tokens.IssueTokens(user)
	if err != nil {
		slog.Error("Failed to rotate tokens", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	if err := h.repo.UpdateRefreshToken(r.Context(), user.ID, refresh); err != nil {
		slog.Error("Failed to store rotated refresh token", "error", err, "user_id", user.ID)
		Error(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if err := h.repo.UpdateRefreshToken(r.Context(), id.UserID, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to clear refresh token", "error", err, "user_id", id.UserID)
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), id.UserID)
	if err != nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"phone":      user.Phone,
		"created_at": user.CreatedAt,
	})
}
