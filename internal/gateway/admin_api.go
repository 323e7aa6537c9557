// ABOUTME: Admin-only HTTP handlers mounted behind RequireAdminHTTP
// ABOUTME: Account deactivation soft-deletes the user and drops their live channel

package gateway

import (
	"net/http"
	"time"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/presence"
)

// handleDeactivateUser soft-deletes an account, revoking its refresh token.
// Deactivating an already deleted account is a no-op.
func (g *Gateway) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	userID := r.PathValue("id")

	if userID == caller.UserID {
		g.sendJSONError(w, http.StatusBadRequest, "Cannot deactivate your own account")
		return
	}

	user, err := g.store.GetUser(r.Context(), userID)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	if !user.IsDeleted() {
		if err := g.store.SoftDeleteUser(r.Context(), user.ID, time.Now().UTC()); err != nil {
			g.sendServiceError(w, r, err)
			return
		}
		g.logger.Info("account deactivated", "user_id", user.ID, "by", caller.UserID)
	}

	// the read loop's deferred Unregister records the user offline
	if ch, ok := g.presence.Lookup(user.ID); ok {
		ch.Close(presence.CloseAccountDeactivated, "account deactivated")
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"userId": user.ID})
}
