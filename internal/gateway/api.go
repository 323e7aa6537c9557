// ABOUTME: HTTP API handlers for messaging and user search plus the shared JSON envelope
// ABOUTME: Maps service errors to status codes in one place and never echoes internal errors

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/conversation"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

const (
	maxRequestBody   = 1 << 20
	searchLimit      = 10
	internalErrorMsg = "Internal server error"
)

// envelope is the response shape for every JSON endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// SendMessageRequest is the body of POST /api/message/send.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
}

// writeJSON writes a success envelope.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a failure envelope.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

// errorStatus maps a service error to an HTTP status and a client-safe message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingField),
		errors.Is(err, auth.ErrInvalidField),
		errors.Is(err, conversation.ErrMissingReceiver),
		errors.Is(err, conversation.ErrInvalidReceiver),
		errors.Is(err, conversation.ErrEmptyContent):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()

	case errors.Is(err, auth.ErrAccountDeleted),
		errors.Is(err, auth.ErrTokenMismatch),
		errors.Is(err, conversation.ErrNotParticipant):
		return http.StatusForbidden, err.Error()

	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrReceiverNotFound),
		errors.Is(err, conversation.ErrMessageNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, internalErrorMsg
}

// sendServiceError maps err and logs anything that becomes a 500.
func (g *Gateway) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// handleSendMessage persists a message and pushes it to the receiver if online.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "Content is required")
		return
	}

	res, err := g.conversation.Deliver(r.Context(), &conversation.DeliverRequest{
		SenderID:        caller.UserID,
		ConversationRef: req.ConversationID,
		ReceiverID:      req.ReceiverID,
		Content:         req.Content,
	})
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	g.pushToRecipient(res, "")
	g.writeJSON(w, http.StatusCreated, newMessagePayload(res.Message, ""))
}

// handleListConversations returns the caller's conversations, newest activity first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	views, err := g.conversation.ListConversations(r.Context(), caller.UserID)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	for _, v := range views {
		for _, p := range v.Participants {
			p.IsOnline = g.presence.IsOnline(p.ID)
		}
	}
	g.writeJSON(w, http.StatusOK, views)
}

// handleGetMessages returns a conversation's history in creation order.
func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	msgs, err := g.conversation.GetMessages(r.Context(), caller.UserID, r.PathValue("conversationId"))
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleMarkRead marks every message in a conversation read by the caller.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	conversationID := r.PathValue("conversationId")

	if err := g.conversation.MarkRead(r.Context(), caller.UserID, conversationID); err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

// handleHideMessage hides a message for the caller only.
func (g *Gateway) handleHideMessage(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())
	messageID := r.PathValue("messageId")

	if err := g.conversation.HideMessage(r.Context(), caller.UserID, messageID); err != nil {
		g.sendServiceError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"messageId": messageID})
}

// handleSearchUsers finds users by username or name, excluding the caller.
// An empty query matches nobody.
func (g *Gateway) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		g.writeJSON(w, http.StatusOK, []*store.PublicUser{})
		return
	}

	users, err := g.store.SearchUsers(r.Context(), query, caller.UserID, searchLimit)
	if err != nil {
		g.sendServiceError(w, r, err)
		return
	}

	out := make([]*store.PublicUser, 0, len(users))
	for _, u := range users {
		pu := u.Public()
		pu.IsOnline = g.presence.IsOnline(u.ID)
		out = append(out, pu)
	}
	g.writeJSON(w, http.StatusOK, out)
}

// recoverMiddleware converts handler panics into a 500 so one request cannot take the process down.
func (g *Gateway) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				g.logger.Error("panic in handler",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				g.sendJSONError(w, http.StatusInternalServerError, internalErrorMsg)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin may call the API with credentials.
// An empty allow list accepts every origin.
func (g *Gateway) originAllowed(origin string) bool {
	allowed := g.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, origin) || slices.Contains(allowed, "*")
}

// corsMiddleware answers preflight requests and sets credentialed CORS headers.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && g.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
