// ABOUTME: Websocket endpoint: authenticates the handshake, registers presence, and runs the read loop
// ABOUTME: Inbound send_message frames go through the delivery service; failures reply only to the sender

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/conversation"
	"github.com/Sahil-Karanje/chat-backend/internal/presence"
)

const maxFrameSize = 1 << 20

// checkOrigin applies the CORS allow list to websocket upgrades.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return g.originAllowed(origin)
}

// handshakeTokens lists the access tokens to try: ?token= first, then cookie and bearer header.
func handshakeTokens(r *http.Request) []string {
	tokens := auth.TokensFromRequest(r)
	if t := r.URL.Query().Get("token"); t != "" {
		tokens = append([]string{t}, tokens...)
	}
	return tokens
}

// handleWebSocket upgrades an authenticated request and serves frames until disconnect.
// Shutdown waits for it to return before closing the store.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !g.trackSocket() {
		g.sendJSONError(w, http.StatusServiceUnavailable, "Server shutting down")
		return
	}
	defer g.sockets.Done()

	tokens := handshakeTokens(r)
	if len(tokens) == 0 {
		g.sendJSONError(w, http.StatusUnauthorized, "Authentication error")
		return
	}
	user, err := auth.AuthenticateAny(r.Context(), g.auth, tokens)
	if err != nil {
		g.logger.Debug("websocket handshake rejected", "error", err)
		g.sendJSONError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	rt := g.config.Realtime
	conn := NewConnection(user.ID, ws, rt.SendBuffer, rt.PingPeriod)
	logger := g.logger.With("user_id", user.ID, "channel_id", conn.ID())

	evicted := g.presence.Register(user.ID, conn)
	conn.Start()
	if evicted != nil {
		evicted.Close(presence.CloseSessionReplaced, "session replaced")
	}
	// registered after Shutdown emptied the registry
	if g.isClosing() {
		g.presence.Unregister(user.ID, conn)
		conn.Close(presence.CloseGoingAway, "server shutdown")
		return
	}
	g.setOnline(user.ID, true)

	defer func() {
		// Shutdown empties the registry itself, so Unregister finds nothing then
		if g.presence.Unregister(user.ID, conn) || g.isClosing() {
			g.setOnline(user.ID, false)
		}
		conn.Close(websocket.CloseNormalClosure, "session closed")
		logger.Debug("websocket closed")
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(rt.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(rt.ReadTimeout))
	})

	g.reply(conn, EventConnected, map[string]string{"userId": user.ID})

	// Deliveries outlive the socket: a disconnect must not abort a half-done write.
	deliveryCtx := context.WithoutCancel(r.Context())

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.replyError(conn, "invalid payload", "")
			continue
		}

		switch frame.Event {
		case EventSendMessage:
			g.handleSendFrame(deliveryCtx, conn, frame.Data)
		case EventMarkRead:
			g.handleMarkReadFrame(deliveryCtx, conn, frame.Data)
		default:
			g.replyError(conn, "unknown event", "")
		}
	}
}

// handleSendFrame delivers one send_message frame and acknowledges the sender.
func (g *Gateway) handleSendFrame(parent context.Context, conn *Connection, raw json.RawMessage) {
	var data SendMessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		g.replyError(conn, "invalid payload", "")
		return
	}

	if g.dedupe.Seen(conn.UserID, data.ClientMessageID) {
		g.replyError(conn, "duplicate message", data.ClientMessageID)
		return
	}

	ctx, cancel := context.WithTimeout(parent, g.config.Realtime.DeliveryTimeout)
	defer cancel()

	res, err := g.conversation.Deliver(ctx, &conversation.DeliverRequest{
		SenderID:        conn.UserID,
		ConversationRef: data.ConversationID,
		ReceiverID:      data.ReceiverID,
		Content:         data.Content,
	})
	if err != nil {
		if data.ClientMessageID != "" {
			g.dedupe.Forget(conn.UserID, data.ClientMessageID)
		}
		status, msg := errorStatus(err)
		if status == http.StatusInternalServerError {
			g.logger.Error("websocket delivery failed", "user_id", conn.UserID, "error", err)
		}
		g.replyError(conn, msg, data.ClientMessageID)
		return
	}

	g.pushToRecipient(res, data.ClientMessageID)
	g.reply(conn, EventMessageSent, newMessagePayload(res.Message, data.ClientMessageID))
}

// handleMarkReadFrame marks a conversation read and acknowledges with messages_read.
func (g *Gateway) handleMarkReadFrame(parent context.Context, conn *Connection, raw json.RawMessage) {
	var data MarkReadData
	if err := json.Unmarshal(raw, &data); err != nil {
		g.replyError(conn, "invalid payload", "")
		return
	}

	ctx, cancel := context.WithTimeout(parent, g.config.Realtime.DeliveryTimeout)
	defer cancel()

	if err := g.conversation.MarkRead(ctx, conn.UserID, data.ConversationID); err != nil {
		_, msg := errorStatus(err)
		g.replyError(conn, msg, "")
		return
	}
	g.reply(conn, EventMessagesRead, MarkReadData{ConversationID: data.ConversationID, ReaderID: conn.UserID})
}

// reply sends an event to one connection. Sends to a closed connection are dropped.
func (g *Gateway) reply(conn *Connection, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		g.logger.Error("encoding frame", "event", event, "error", err)
		return
	}
	_ = conn.Send(frame)
}

func (g *Gateway) replyError(conn *Connection, message, clientMessageID string) {
	g.reply(conn, EventError, ErrorData{Message: message, ClientMessageID: clientMessageID})
}

// setOnline records a presence transition in the store.
func (g *Gateway) setOnline(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.store.SetOnline(ctx, userID, online, time.Now().UTC()); err != nil {
		g.logger.Warn("failed to record presence", "user_id", userID, "online", online, "error", err)
	}
}
