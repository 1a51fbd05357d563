package entity

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageStatus represents the delivery state of a message
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the happy-path statuses so that acknowledgments arriving
// out of order never move a message backwards (a "read" ack followed by a
// late "delivered" ack leaves the message read).
var statusRank = map[MessageStatus]int{
	StatusQueued:    0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Valid reports whether s is a known message status.
func (s MessageStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a transition from s to next is allowed:
// forward moves along queued -> sending -> sent -> delivered -> read,
// failure from queued or sending, and failed -> sending via explicit retry.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == StatusFailed {
		return next == StatusSending
	}
	if next == StatusFailed {
		return s == StatusQueued || s == StatusSending
	}
	return statusRank[next] > statusRank[s]
}

// MessageID identifies a message in exactly one of two identity spaces:
// a client-generated temporary ID while the message awaits server
// confirmation, or a server-assigned ID after confirmation. The two are
// mutually exclusive, so an optimistic message can never be confused with
// a confirmed one.
type MessageID struct {
	serverID string
	tempID   string
}

// PendingID returns a MessageID in the temporary identity space.
func PendingID(tempID string) MessageID {
	return MessageID{tempID: tempID}
}

// ConfirmedID returns a MessageID in the server identity space.
func ConfirmedID(serverID string) MessageID {
	return MessageID{serverID: serverID}
}

// Confirmed reports whether the message has a server-assigned identity.
func (id MessageID) Confirmed() bool {
	return id.serverID != ""
}

// ServerID returns the server-assigned identity, empty until confirmed.
func (id MessageID) ServerID() string {
	return id.serverID
}

// TempID returns the client-assigned temporary identity. It is retained
// after confirmation but becomes inert: all addressing switches to the
// server identity once one is assigned.
func (id MessageID) TempID() string {
	return id.tempID
}

// Confirm moves the identity into the server space. The temporary identity
// is kept for reference but no longer participates in matching.
func (id MessageID) Confirm(serverID string) MessageID {
	return MessageID{serverID: serverID, tempID: id.tempID}
}

// String returns the identity the message is currently addressed by.
func (id MessageID) String() string {
	if id.serverID != "" {
		return id.serverID
	}
	return id.tempID
}

type messageIDJSON struct {
	ServerID string `json:"server_id,omitempty"`
	TempID   string `json:"temp_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageIDJSON{ServerID: id.serverID, TempID: id.tempID})
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	var raw messageIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id.serverID = raw.ServerID
	id.tempID = raw.TempID
	return nil
}

// Attachment represents a file attached to a message, stored out-of-band
type Attachment struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Message represents a single chat entry
type Message struct {
	ID             MessageID     `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Sender         Participant   `json:"sender"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Status         MessageStatus `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	Deleted        bool          `json:"deleted,omitempty"`
	RetryCount     int           `json:"retry_count,omitempty"`
}

// Optimistic reports whether the message is still awaiting server
// confirmation. A message is optimistic if and only if it has no server
// identity yet.
func (m Message) Optimistic() bool {
	return !m.ID.Confirmed()
}

// MaxMessageLength is the maximum length of a message body in characters
const MaxMessageLength = 2000

// ValidateContent validates a message body before it touches the store or
// the network.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if len([]rune(content)) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
