// Package store holds the authoritative in-memory conversation state for the
// chat engine. Every mutation, regardless of origin (optimistic send, live
// transport event, history page, missed-message replay), is serialized through
// the store's mutex so the sort and uniqueness invariants hold under
// concurrent producers. Consumers read through snapshot queries and never
// mutate state directly.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vadim/consync/internal/domain/chat/entity"
)

// Store is the single owner of conversation state.
type Store struct {
	mu       sync.Mutex
	self     entity.Participant
	convs    map[string]*entity.Conversation
	activeID string
}

// New creates an empty store owned by the given session participant.
func New(self entity.Participant) *Store {
	return &Store{
		self:  self,
		convs: make(map[string]*entity.Conversation),
	}
}

// UpsertMessage inserts or replaces a message in its conversation. If the
// conversation is unknown, a minimal one is synthesized from the message's
// sender. Matching is by server identity first, then temporary identity; on a
// match the entry is replaced in place, otherwise appended. The message list
// is re-sorted by timestamp and the conversation summary recomputed.
// Returns true if a new entry was appended rather than replacing an
// existing one.
func (s *Store) UpsertMessage(msg entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, inserted := s.upsertLocked(msg)
	return inserted
}

// ApplyIncoming runs a message from the live transport (or a missed-message
// replay) through the same insertion path as every other producer, and
// additionally increments the conversation's unread count when the message is
// genuinely new, not our own, and the conversation is not the active one.
// Returns true if the unread count was incremented.
func (s *Store) ApplyIncoming(msg entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, inserted := s.upsertLocked(msg)
	if !inserted {
		return false
	}
	if conv.ID == s.activeID || msg.Sender.ID == s.self.ID {
		return false
	}
	conv.UnreadCount++
	return true
}

// ConfirmMessage assigns a server identity to the message currently tracked
// by the given temporary identity and applies the reported status. Returns
// false if no optimistic message with that temporary identity exists.
func (s *Store) ConfirmMessage(tempID, serverID string, status entity.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.findByTempIDLocked(tempID)
	if conv == nil {
		return false
	}

	// A replayed copy of the same message may already be tracked under the
	// server identity. Keep that entry and drop the pending duplicate so no
	// two entries ever share a server identity.
	if existing, eidx := s.findByServerIDLocked(serverID); existing != nil {
		msg := &existing.Messages[eidx]
		if status.Valid() && msg.Status.CanTransition(status) {
			msg.Status = status
		}
		conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
		s.finalizeLocked(conv)
		if existing != conv {
			s.finalizeLocked(existing)
		}
		return true
	}

	msg := &conv.Messages[idx]
	msg.ID = msg.ID.Confirm(serverID)
	if status.Valid() {
		msg.Status = status
	}
	s.finalizeLocked(conv)
	return true
}

// UpdateStatus applies a status transition to the message with the given
// server identity. Acknowledgments are matched by identity rather than
// arrival order, so a transition that would move the message backwards is
// ignored. Returns false if no message with that identity exists.
func (s *Store) UpdateStatus(serverID string, status entity.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.findByServerIDLocked(serverID)
	if conv == nil {
		return false
	}
	msg := &conv.Messages[idx]
	if msg.Status.CanTransition(status) {
		msg.Status = status
		conv.UpdatedAt = time.Now()
	}
	return true
}

// FindMessage locates a message by server identity first, then temporary
// identity, across all conversations. Returns a copy.
func (s *Store) FindMessage(id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.findByServerIDLocked(id)
	if conv == nil {
		conv, idx = s.findByTempIDLocked(id)
	}
	if conv == nil {
		return entity.Message{}, false
	}
	return copyMessage(conv.Messages[idx]), true
}

// MarkRetrying transitions a failed message back to sending and increments
// its retry count. Returns the updated message for re-emission, or false if
// the message does not exist or is not in a failed state.
func (s *Store) MarkRetrying(id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.locateLocked(id)
	if conv == nil || conv.Messages[idx].Status != entity.StatusFailed {
		return entity.Message{}, false
	}
	msg := &conv.Messages[idx]
	msg.Status = entity.StatusSending
	msg.RetryCount++
	conv.UpdatedAt = time.Now()
	return copyMessage(*msg), true
}

// MarkFailed transitions a message (located by either identity space) to
// failed. Returns false if the message does not exist.
func (s *Store) MarkFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, idx := s.locateLocked(id)
	if conv == nil {
		return false
	}
	conv.Messages[idx].Status = entity.StatusFailed
	conv.UpdatedAt = time.Now()
	return true
}

// BeginHistoryLoad marks a conversation as having an in-flight history
// fetch. started is false either when the conversation is unknown or when a
// fetch is already in flight; found distinguishes the two.
func (s *Store) BeginHistoryLoad(convID string) (started, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[convID]
	if !ok {
		return false, false
	}
	if conv.LoadingHistory {
		return false, true
	}
	conv.LoadingHistory = true
	return true, true
}

// AbortHistoryLoad clears the loading flag after a failed fetch, leaving the
// rest of the conversation state untouched.
func (s *Store) AbortHistoryLoad(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[convID]; ok {
		conv.LoadingHistory = false
	}
}

// ReplaceHistory installs the first history page, fully replacing the
// conversation's message list. No-op if the conversation has disappeared
// (a fetch may complete after logout cleared the store).
func (s *Store) ReplaceHistory(convID string, msgs []entity.Message, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[convID]
	if !ok {
		return
	}
	conv.Messages = dedupe(msgs)
	conv.Page = 1
	conv.HasMore = hasMore
	conv.HistoryLoaded = true
	conv.LoadingHistory = false
	s.finalizeLocked(conv)
}

// PrependHistory merges an older history page into the conversation,
// skipping messages already present, and advances the page counter. No-op if
// the conversation has disappeared.
func (s *Store) PrependHistory(convID string, msgs []entity.Message, hasMore bool, page int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[convID]
	if !ok {
		return
	}
	for _, msg := range msgs {
		if s.containsLocked(conv, msg) {
			continue
		}
		conv.Messages = append(conv.Messages, msg)
	}
	conv.Page = page
	conv.HasMore = hasMore
	conv.LoadingHistory = false
	s.finalizeLocked(conv)
}

// UpsertConversation inserts a conversation from a bulk list fetch or a
// get-or-create response. If the conversation is already tracked, only its
// participant metadata and summary are refreshed; locally accumulated
// messages, pagination state and unread count are preserved.
func (s *Store) UpsertConversation(conv entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.convs[conv.ID]
	if !ok {
		c := conv
		if c.Self.ID == "" {
			c.Self = s.self
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now()
		}
		c.Messages = dedupe(c.Messages)
		s.convs[c.ID] = &c
		if len(c.Messages) > 0 {
			s.finalizeLocked(&c)
		}
		return
	}

	online := existing.Counterpart.Online
	existing.Counterpart = conv.Counterpart
	existing.Counterpart.Online = online || conv.Counterpart.Online
	if conv.LastMessage.Timestamp.After(existing.LastMessage.Timestamp) {
		existing.LastMessage = conv.LastMessage
	}
	existing.UpdatedAt = time.Now()
}

// SetActive marks a conversation as the active one and resets its unread
// count. An empty id deactivates without touching any conversation.
func (s *Store) SetActive(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = convID
	if conv, ok := s.convs[convID]; ok {
		conv.UnreadCount = 0
	}
}

// ActiveID returns the identity of the active conversation, if any.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ClearUnread resets the unread count of a conversation to zero.
func (s *Store) ClearUnread(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[convID]
	if !ok {
		return false
	}
	conv.UnreadCount = 0
	return true
}

// SetPresence updates the online flag on every conversation whose
// counterpart matches the given participant identity. Returns the number of
// conversations updated.
func (s *Store) SetPresence(userID string, online bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, conv := range s.convs {
		if conv.Counterpart.ID == userID {
			conv.Counterpart.Online = online
			updated++
		}
	}
	return updated
}

// Get returns a snapshot copy of a conversation.
func (s *Store) Get(convID string) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[convID]
	if !ok {
		return entity.Conversation{}, false
	}
	return copyConversation(conv), true
}

// List returns snapshot copies of all conversations, most recently updated
// first.
func (s *Store) List() []entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, copyConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// TotalUnread returns the sum of unread counts across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, conv := range s.convs {
		total += conv.UnreadCount
	}
	return total
}

// Reset clears all conversation state. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*entity.Conversation)
	s.activeID = ""
}

// upsertLocked implements the shared insertion contract. Caller holds the
// lock.
func (s *Store) upsertLocked(msg entity.Message) (*entity.Conversation, bool) {
	conv, ok := s.convs[msg.ConversationID]
	if !ok {
		conv = s.synthesizeLocked(msg)
	}

	if idx := indexOf(conv, msg); idx >= 0 {
		conv.Messages[idx] = msg
		s.finalizeLocked(conv)
		return conv, false
	}

	conv.Messages = append(conv.Messages, msg)
	s.finalizeLocked(conv)
	return conv, true
}

// synthesizeLocked creates a minimal conversation for a message arriving on
// an unknown conversation identity, using the sender as the counterpart.
// Participant metadata may be stale until the next full list refresh.
func (s *Store) synthesizeLocked(msg entity.Message) *entity.Conversation {
	conv := &entity.Conversation{
		ID:          msg.ConversationID,
		Self:        s.self,
		Counterpart: msg.Sender,
		UpdatedAt:   time.Now(),
	}
	s.convs[conv.ID] = conv
	return conv
}

// finalizeLocked re-sorts the message list ascending by timestamp, refreshes
// the last-message summary and bumps the conversation's updated-at stamp.
func (s *Store) finalizeLocked(conv *entity.Conversation) {
	sort.SliceStable(conv.Messages, func(i, j int) bool {
		return conv.Messages[i].Timestamp.Before(conv.Messages[j].Timestamp)
	})
	if n := len(conv.Messages); n > 0 {
		last := conv.Messages[n-1]
		conv.LastMessage = entity.LastMessage{
			Content:   last.Content,
			Timestamp: last.Timestamp,
			SenderID:  last.Sender.ID,
		}
	}
	conv.UpdatedAt = time.Now()
}

// containsLocked reports whether the conversation already holds a message
// with the same server or temporary identity.
func (s *Store) containsLocked(conv *entity.Conversation, msg entity.Message) bool {
	return indexOf(conv, msg) >= 0
}

func (s *Store) findByServerIDLocked(serverID string) (*entity.Conversation, int) {
	for _, conv := range s.convs {
		for i := range conv.Messages {
			if conv.Messages[i].ID.ServerID() == serverID {
				return conv, i
			}
		}
	}
	return nil, -1
}

func (s *Store) findByTempIDLocked(tempID string) (*entity.Conversation, int) {
	for _, conv := range s.convs {
		for i := range conv.Messages {
			m := conv.Messages[i]
			if !m.ID.Confirmed() && m.ID.TempID() == tempID {
				return conv, i
			}
		}
	}
	return nil, -1
}

// locateLocked resolves an identity in either space, server first.
func (s *Store) locateLocked(id string) (*entity.Conversation, int) {
	if conv, idx := s.findByServerIDLocked(id); conv != nil {
		return conv, idx
	}
	return s.findByTempIDLocked(id)
}

// indexOf finds an existing entry matching msg by server identity first,
// then temporary identity. Returns -1 if absent.
func indexOf(conv *entity.Conversation, msg entity.Message) int {
	if sid := msg.ID.ServerID(); sid != "" {
		for i := range conv.Messages {
			if conv.Messages[i].ID.ServerID() == sid {
				return i
			}
		}
	}
	if tid := msg.ID.TempID(); tid != "" {
		for i := range conv.Messages {
			if conv.Messages[i].ID.TempID() == tid {
				return i
			}
		}
	}
	return -1
}

// dedupe removes duplicate identities from a fetched page, keeping the first
// occurrence.
func dedupe(msgs []entity.Message) []entity.Message {
	out := make([]entity.Message, 0, len(msgs))
	tmp := entity.Conversation{}
	for _, msg := range msgs {
		if indexOf(&tmp, msg) >= 0 {
			continue
		}
		tmp.Messages = append(tmp.Messages, msg)
		out = append(out, msg)
	}
	return out
}

func copyMessage(msg entity.Message) entity.Message {
	out := msg
	out.Attachments = append([]entity.Attachment(nil), msg.Attachments...)
	return out
}

func copyConversation(conv *entity.Conversation) entity.Conversation {
	out := *conv
	out.Messages = make([]entity.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		out.Messages[i] = copyMessage(msg)
	}
	return out
}
