package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"redtrace/metrics"
	"redtrace/storage"

	"golang.org/x/crypto/bcrypt"
)

// loginRequest is the POST /api/auth/login body
type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// loginResponse carries the signed token and the caller's role
type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}

	user, err := a.users.GetUser(req.Username)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			writeError(w, http.StatusInternalServerError, "Login failed", err, a.logger)
			return
		}
		// Burn a comparison anyway so a missing user costs the same as a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(req.Password),
		)
		a.rejectLogin(w, req.Username)
		return
	}
	if !user.Active {
		a.rejectLogin(w, req.Username)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		a.rejectLogin(w, req.Username)
		return
	}

	token, err := generateJWT(user, a.config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err, a.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(a.config.Auth.JWTExpiry),
		HttpOnly: true,
		Secure:   a.config.API.TLS,
		SameSite: http.SameSiteStrictMode,
	})

	a.logger.Infow("User logged in", "username", user.Username, "role", user.Role)
	a.respondJSON(w, loginResponse{
		Token:    token,
		Username: user.Username,
		Role:     string(user.Role),
	}, http.StatusOK)
}

func (a *API) rejectLogin(w http.ResponseWriter, username string) {
	metrics.LoginFailures.Inc()
	a.logger.Warnw("Failed login attempt", "username", username)
	http.Error(w, "Invalid credentials", http.StatusUnauthorized)
}
