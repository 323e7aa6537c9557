// ABOUTME: Tests for the websocket endpoint using a real HTTP server and gorilla client
// ABOUTME: Covers handshake auth, live delivery, error replies, dedupe and session replacement

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/presence"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func newSocketServer(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	gw := newTestGateway(t)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return gw, srv
}

// dial connects and waits for the connected frame, so the channel is registered on return.
func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	f := readFrame(t, ws)
	require.Equal(t, EventConnected, f.Event)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func sendFrame(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := encodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func decodeMessage(t *testing.T, f Frame) *MessagePayload {
	t.Helper()
	var p MessagePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	require.NotNil(t, p.Message)
	return &p
}

func decodeError(t *testing.T, f Frame) ErrorData {
	t.Helper()
	require.Equal(t, EventError, f.Event)
	var e ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &e))
	return e
}

func TestWebSocket_HandshakeRequiresToken(t *testing.T) {
	_, srv := newSocketServer(t)

	for _, token := range []string{"", "not-a-token"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestWebSocket_BearerHandshake(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")

	header := http.Header{"Authorization": []string{"Bearer " + alice.Token}}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	assert.Equal(t, EventConnected, readFrame(t, ws).Event)
	assert.True(t, gw.Presence().IsOnline(alice.ID))
}

func TestWebSocket_StaleCookieFallsBackToBearer(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")

	header := http.Header{
		"Cookie":        []string{auth.AccessCookieName + "=stale-token"},
		"Authorization": []string{"Bearer " + alice.Token},
	}
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	assert.Equal(t, EventConnected, readFrame(t, ws).Event)
	assert.True(t, gw.Presence().IsOnline(alice.ID))
}

func TestWebSocket_RejectsDisallowedOrigin(t *testing.T) {
	gw, srv := newSocketServer(t)
	gw.config.Server.AllowedOrigins = []string{"https://app.example.com"}
	alice := registerUser(t, gw, "alice")

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, alice.Token), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocket_LiveDelivery(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	bob := registerUser(t, gw, "bob")

	aws := dial(t, srv, alice.Token)
	bws := dial(t, srv, bob.Token)

	sendFrame(t, aws, EventSendMessage, SendMessageData{
		ReceiverID:      bob.ID,
		ConversationID:  "temp-1",
		Content:         "hello over the wire",
		ClientMessageID: "c-1",
	})

	sent := readFrame(t, aws)
	require.Equal(t, EventMessageSent, sent.Event)
	ack := decodeMessage(t, sent)
	assert.Equal(t, "c-1", ack.ClientMessageID)
	assert.Equal(t, "hello over the wire", ack.Content)
	assert.NotEqual(t, "temp-1", ack.ConversationID)

	got := readFrame(t, bws)
	require.Equal(t, EventReceiveMessage, got.Event)
	recv := decodeMessage(t, got)
	assert.Equal(t, ack.ID, recv.ID)
	assert.Equal(t, ack.ConversationID, recv.ConversationID)
	assert.Equal(t, alice.ID, recv.SenderID)

	// bob replies on the durable ID
	sendFrame(t, bws, EventSendMessage, SendMessageData{ConversationID: ack.ConversationID, Content: "hi alice"})
	assert.Equal(t, EventMessageSent, readFrame(t, bws).Event)
	reply := decodeMessage(t, readFrame(t, aws))
	assert.Equal(t, "hi alice", reply.Content)

	user, err := gw.store.GetUser(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.True(t, user.IsOnline)
}

func TestWebSocket_HTTPSendPushesToSocket(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	bob := registerUser(t, gw, "bob")
	bws := dial(t, srv, bob.Token)

	resp := doJSON(t, gw.Handler(), http.MethodPost, "/api/message/send", alice.Token, SendMessageRequest{ReceiverID: bob.ID, Content: "via http"})
	require.Equal(t, http.StatusCreated, resp.Code)

	f := readFrame(t, bws)
	require.Equal(t, EventReceiveMessage, f.Event)
	assert.Equal(t, "via http", decodeMessage(t, f).Content)
}

func TestWebSocket_ErrorsGoOnlyToSender(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	aws := dial(t, srv, alice.Token)

	tests := []struct {
		name    string
		data    SendMessageData
		message string
	}{
		{"empty content", SendMessageData{ReceiverID: "x", Content: "  ", ClientMessageID: "e-1"}, "content is required"},
		{"to self", SendMessageData{ReceiverID: alice.ID, Content: "me", ClientMessageID: "e-2"}, "cannot send a message to yourself"},
		{"unknown receiver", SendMessageData{ReceiverID: "nobody", Content: "hi", ClientMessageID: "e-3"}, "receiver not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendFrame(t, aws, EventSendMessage, tt.data)
			e := decodeError(t, readFrame(t, aws))
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.data.ClientMessageID, e.ClientMessageID)
		})
	}

	require.NoError(t, aws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "invalid payload", decodeError(t, readFrame(t, aws)).Message)

	sendFrame(t, aws, "typing", map[string]string{})
	assert.Equal(t, "unknown event", decodeError(t, readFrame(t, aws)).Message)
}

func TestWebSocket_DuplicateClientMessageID(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	bob := registerUser(t, gw, "bob")
	aws := dial(t, srv, alice.Token)

	// a failed attempt does not burn the id
	sendFrame(t, aws, EventSendMessage, SendMessageData{ReceiverID: alice.ID, Content: "oops", ClientMessageID: "dup"})
	decodeError(t, readFrame(t, aws))

	data := SendMessageData{ReceiverID: bob.ID, Content: "once", ClientMessageID: "dup"}
	sendFrame(t, aws, EventSendMessage, data)
	first := readFrame(t, aws)
	require.Equal(t, EventMessageSent, first.Event)
	convID := decodeMessage(t, first).ConversationID

	sendFrame(t, aws, EventSendMessage, data)
	e := decodeError(t, readFrame(t, aws))
	assert.Equal(t, "duplicate message", e.Message)
	assert.Equal(t, "dup", e.ClientMessageID)

	msgs, err := gw.store.GetMessages(context.Background(), convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestWebSocket_MarkRead(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	bob := registerUser(t, gw, "bob")
	aws := dial(t, srv, alice.Token)
	bws := dial(t, srv, bob.Token)

	sendFrame(t, aws, EventSendMessage, SendMessageData{ReceiverID: bob.ID, Content: "read this"})
	convID := decodeMessage(t, readFrame(t, aws)).ConversationID
	require.Equal(t, EventReceiveMessage, readFrame(t, bws).Event)

	sendFrame(t, bws, EventMarkRead, MarkReadData{ConversationID: convID})
	f := readFrame(t, bws)
	require.Equal(t, EventMessagesRead, f.Event)
	var ack MarkReadData
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.Equal(t, convID, ack.ConversationID)
	assert.Equal(t, bob.ID, ack.ReaderID)

	msgs, err := gw.store.GetMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].ReadBy, bob.ID)

	sendFrame(t, bws, EventMarkRead, MarkReadData{ConversationID: "3f1c6f8e-0000-4000-8000-000000000000"})
	assert.Equal(t, EventError, readFrame(t, bws).Event)
}

func TestWebSocket_SessionReplaced(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")

	first := dial(t, srv, alice.Token)
	second := dial(t, srv, alice.Token)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, presence.CloseSessionReplaced, closeErr.Code)

	assert.True(t, gw.Presence().IsOnline(alice.ID))
	assert.Equal(t, 1, gw.Presence().Count())

	require.NoError(t, second.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	assert.Eventually(t, func() bool {
		return !gw.Presence().IsOnline(alice.ID)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		u, err := gw.store.GetUser(context.Background(), alice.ID)
		return err == nil && !u.IsOnline && u.LastSeen != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ShutdownClosesChannels(t *testing.T) {
	gw, srv := newSocketServer(t)
	alice := registerUser(t, gw, "alice")
	ws := dial(t, srv, alice.Token)

	gw.Presence().Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

// closeOrderStore counts presence writes and flags any that arrive after Close.
type closeOrderStore struct {
	store.Store
	closed     atomic.Bool
	offline    atomic.Int32
	lateWrites atomic.Int32
}

func (s *closeOrderStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	if s.closed.Load() {
		s.lateWrites.Add(1)
	}
	if !online {
		s.offline.Add(1)
	}
	return s.Store.SetOnline(ctx, userID, online, at)
}

func (s *closeOrderStore) Close() error {
	s.closed.Store(true)
	return s.Store.Close()
}

func TestShutdown_DrainsSocketsBeforeClosingStore(t *testing.T) {
	cfg := newTestConfig(t)
	inner, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	s := &closeOrderStore{Store: inner}

	gw, err := NewWithStore(cfg, s, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	alice := registerUser(t, gw, "alice")
	dial(t, srv, alice.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	// the handler recorded alice offline before the store closed
	assert.Equal(t, int32(1), s.offline.Load())
	assert.Zero(t, s.lateWrites.Load())
	assert.Zero(t, gw.Presence().Count())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, alice.Token), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestWaitForSockets_BoundedByContext(t *testing.T) {
	gw := newTestGateway(t)

	require.True(t, gw.trackSocket())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, gw.waitForSockets(ctx), context.Canceled)

	gw.sockets.Done()
	assert.NoError(t, gw.waitForSockets(context.Background()))
}
