package handlers

import (
	"context"
	"net/http"

	"newsletter/internal/models"
	"newsletter/internal/session"
)

// UserAuthenticator looks up users and checks their passwords.
type UserAuthenticator interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	CheckPassword(user *models.User, password string) bool
}

// SessionManager creates and destroys login sessions.
type SessionManager interface {
	Create(ctx context.Context, w http.ResponseWriter, data *session.Data) (string, error)
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Auth groups all authentication-related HTTP handlers.
type Auth struct {
	sessions SessionManager
	users    UserAuthenticator
}

// NewAuth creates a new Auth handler group.
func NewAuth(sessions SessionManager, users UserAuthenticator) *Auth {
	return &Auth{sessions: sessions, users: users}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login checks credentials and starts a session.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateStruct(req); errs != nil {
		writeValidation(w, errs)
		return
	}

	user, err := a.users.FindByEmail(r.Context(), req.Email)
	if err != nil {
		serverError(w, "login lookup failed", err)
		return
	}
	if user == nil || !a.users.CheckPassword(user, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if _, err := a.sessions.Create(r.Context(), w, &session.Data{
		UserID:  user.ID,
		Email:   user.Email,
		IsStaff: user.IsStaff,
	}); err != nil {
		serverError(w, "session create failed", err, "user_id", user.ID)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Logout destroys the session.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Destroy(r.Context(), w, r); err != nil {
		serverError(w, "session destroy failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
