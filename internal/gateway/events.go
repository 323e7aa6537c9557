// ABOUTME: Live-channel frame types and payload builders shared by the websocket and HTTP paths
// ABOUTME: Frames are JSON objects of the form {"event": "...", "data": {...}}

package gateway

import (
	"encoding/json"

	"github.com/Sahil-Karanje/chat-backend/internal/conversation"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// Inbound events
const (
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_read"
)

// Outbound events
const (
	EventConnected      = "connected"
	EventMessageSent    = "message_sent"
	EventReceiveMessage = "receive_message"
	EventMessagesRead   = "messages_read"
	EventError          = "error_message"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessageData is the payload of send_message.
type SendMessageData struct {
	ReceiverID      string `json:"receiverId"`
	ConversationID  string `json:"conversationId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

// MarkReadData is the payload of mark_read and messages_read.
type MarkReadData struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId,omitempty"`
}

// ErrorData is the payload of error_message.
type ErrorData struct {
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// MessagePayload is a persisted message as pushed to clients. ConversationID
// inside the message is always the durable ID, and ClientMessageID echoes the
// sender's placeholder so clients can reconcile optimistic entries.
type MessagePayload struct {
	*store.Message
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func newMessagePayload(msg *store.Message, clientMessageID string) *MessagePayload {
	return &MessagePayload{Message: msg, ClientMessageID: clientMessageID}
}

// encodeFrame marshals an outbound frame. Payload types are all plain structs,
// so marshaling does not fail in practice.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// pushToRecipient sends receive_message to the other participant if they hold
// a live channel. Offline recipients read the message from history later.
func (g *Gateway) pushToRecipient(res *conversation.DeliverResult, clientMessageID string) {
	if res.RecipientID == "" {
		return
	}
	frame, err := encodeFrame(EventReceiveMessage, newMessagePayload(res.Message, clientMessageID))
	if err != nil {
		g.logger.Error("encoding receive_message", "error", err)
		return
	}
	if g.presence.Notify(res.RecipientID, frame) {
		g.logger.Debug("pushed message", "recipient_id", res.RecipientID, "message_id", res.Message.ID)
	}
}
