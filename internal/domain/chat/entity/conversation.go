package entity

import "time"

// Participant represents one side of a two-party conversation
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
	Online    bool   `json:"online"`
}

// LastMessage is the summary of the most recent message in a conversation,
// recomputed from the tail of the sorted message list after every mutation.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
}

// Conversation represents a two-party message thread
type Conversation struct {
	ID          string      `json:"id"`
	Self        Participant `json:"self"`
	Counterpart Participant `json:"counterpart"`
	LastMessage LastMessage `json:"last_message"`
	UnreadCount int         `json:"unread_count"`
	Messages    []Message   `json:"messages"`

	// Pagination state for history loading
	Page           int  `json:"page"`
	HasMore        bool `json:"has_more"`
	LoadingHistory bool `json:"loading_history"`
	HistoryLoaded  bool `json:"history_loaded"`

	UpdatedAt time.Time `json:"updated_at"`
}
