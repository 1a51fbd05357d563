// Package transport defines the boundary to the real-time push channel: the
// connect state, event subscription and event emission the chat engine
// consumes. Concrete implementations live in subpackages.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Event names carried on the real-time channel.
const (
	EventConnect              = "connect"
	EventDisconnect           = "disconnect"
	EventNewMessage           = "new_message"
	EventMessageDelivered     = "message_delivered"
	EventMessageStatusChanged = "message_status_changed"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventMissedMessages       = "missed_messages"
	EventReconnectionComplete = "reconnection_complete"

	EventSendMessage      = "send_message"
	EventJoinConversation = "join_conversation"
)

// Handler consumes the raw payload of a single inbound event.
type Handler func(payload json.RawMessage)

// Adapter is the real-time channel as seen by the engine. Implementations
// must dispatch events for a given name to the most recently registered
// handler and tolerate Emit being called concurrently with dispatch.
type Adapter interface {
	Connected() bool
	On(event string, h Handler)
	Off(event string)
	Emit(ctx context.Context, event string, payload any) error
}

// WireSender is the sender descriptor as it appears on the wire.
type WireSender struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}

// WireAttachment is an attachment reference as it appears on the wire.
type WireAttachment struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// WireMessage is a fully-formed server message as it appears on the wire.
// TempID is set when the message is the server's echo of one of our own
// optimistic sends.
type WireMessage struct {
	ID          string           `json:"id"`
	TempID      string           `json:"temp_id,omitempty"`
	Sender      WireSender       `json:"sender"`
	Content     string           `json:"content"`
	Attachments []WireAttachment `json:"attachments,omitempty"`
	Status      string           `json:"status,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Deleted     bool             `json:"deleted,omitempty"`
}

// NewMessagePayload is the payload of a new_message event.
type NewMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Message        WireMessage `json:"message"`
}

// MessageDeliveredPayload is the payload of a message_delivered event.
type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
}

// MessageStatusChangedPayload is the payload of a message_status_changed
// event.
type MessageStatusChangedPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// PresencePayload is the payload of user_online and user_offline events.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MissedMessagesPayload is the batch of messages delivered on reconnection
// to cover the gap while disconnected.
type MissedMessagesPayload struct {
	ConversationID string        `json:"conversationId"`
	Messages       []WireMessage `json:"messages"`
}

// SendMessagePayload is the outbound payload of a send_message event.
type SendMessagePayload struct {
	ConversationID string           `json:"conversationId"`
	Content        string           `json:"content"`
	TempID         string           `json:"tempId"`
	Attachments    []WireAttachment `json:"attachments,omitempty"`
}

// JoinConversationPayload is the outbound payload of a join_conversation
// event.
type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}
