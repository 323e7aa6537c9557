// ABOUTME: HTTP handlers for registration, login, token refresh, logout and the current user
// ABOUTME: Sets the credential pair as HttpOnly cookies and returns the access token in the body

package gateway

import (
	"errors"
	"net/http"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	User        *store.PublicUser `json:"user"`
	AccessToken string            `json:"accessToken"`
}

func (g *Gateway) writeSession(w http.ResponseWriter, status int, sess *auth.Session) {
	auth.SetAuthCookies(w, g.cookies, sess.AccessToken, sess.RefreshToken)
	g.writeJSON(w, status, SessionResponse{User: sess.User.Public(), AccessToken: sess.AccessToken})
}

// handleRegister creates an account and starts its first session.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := g.auth.Register(r.Context(), req)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeSession(w, http.StatusCreated, sess)
}

// handleLogin verifies credentials and replaces any previous session.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := g.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeSession(w, http.StatusOK, sess)
}

// handleRefresh issues a new access token from the refresh cookie.
// A missing cookie is 401; any invalid or superseded token is 403.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(auth.RefreshCookieName)
	if err != nil || c.Value == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "Refresh token missing")
		return
	}

	access, err := g.auth.RotateAccess(r.Context(), c.Value)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken),
			errors.Is(err, auth.ErrTokenMismatch),
			errors.Is(err, auth.ErrUserNotFound):
			g.sendJSONError(w, http.StatusForbidden, "Invalid refresh token")
		default:
			g.sendServiceError(w, r, err)
		}
		return
	}

	auth.SetAccessCookie(w, g.cookies, access)
	g.writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

// handleLogout clears the stored refresh token and both cookies.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	if err := g.auth.Revoke(r.Context(), caller.UserID); err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	auth.ClearAuthCookies(w, g.cookies)
	g.writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// handleMe returns the authenticated user.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	user, err := g.store.GetUser(r.Context(), caller.UserID)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	pu := user.Public()
	pu.IsOnline = g.presence.IsOnline(user.ID)
	g.writeJSON(w, http.StatusOK, map[string]any{"user": pu})
}
