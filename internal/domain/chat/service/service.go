// Package service implements the conversation and message synchronization
// engine: optimistic sends reconciled against server acknowledgments,
// paginated history loading, and live transport events, all funneled into a
// single serialized conversation store.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/consync/internal/domain/chat/entity"
	"github.com/vadim/consync/internal/domain/chat/store"
	"github.com/vadim/consync/internal/transport"
)

const defaultPageSize = 50

// ConversationsResult is a page of conversation summaries from the backend.
type ConversationsResult struct {
	Conversations []entity.Conversation
	HasMore       bool
}

// MessagesResult is a page of historical messages from the backend.
type MessagesResult struct {
	Messages []entity.Message
	HasMore  bool
}

// HistoryClient defines the request/response interface to the platform
// backend for past messages and conversation summaries.
type HistoryClient interface {
	ListConversations(ctx context.Context, page, limit int) (*ConversationsResult, error)
	GetMessages(ctx context.Context, conversationID string, page, limit int) (*MessagesResult, error)
	GetOrCreateConversation(ctx context.Context, participantID string) (*entity.Conversation, error)
}

// UploadAttachmentInput represents input for uploading an attachment.
type UploadAttachmentInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// AttachmentUploader stores attachment payloads out-of-band and returns a
// reference to embed in a message.
type AttachmentUploader interface {
	Upload(ctx context.Context, in UploadAttachmentInput) (*entity.Attachment, error)
}

// SnapshotRepository persists a best-effort snapshot of conversation state.
type SnapshotRepository interface {
	SaveConversations(ctx context.Context, convs []entity.Conversation) error
}

// Service is the chat engine. It exclusively owns the conversation store;
// the rest of the application interacts through the methods below.
type Service struct {
	self      entity.Participant
	transport transport.Adapter
	history   HistoryClient
	uploader  AttachmentUploader
	snapshots SnapshotRepository
	store     *store.Store
	logger    *slog.Logger
	pageSize  int

	mu     sync.Mutex
	joined map[string]bool
}

// Option configures the Service.
type Option func(*Service)

// WithUploader enables attachment uploads.
func WithUploader(u AttachmentUploader) Option {
	return func(s *Service) { s.uploader = u }
}

// WithSnapshots enables the best-effort state snapshot on shutdown.
func WithSnapshots(r SnapshotRepository) Option {
	return func(s *Service) { s.snapshots = r }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates the engine for the given session participant.
func New(self entity.Participant, tr transport.Adapter, history HistoryClient, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		self:      self,
		transport: tr,
		history:   history,
		store:     store.New(self),
		logger:    logger,
		pageSize:  defaultPageSize,
		joined:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the engine to the transport's live event stream.
func (s *Service) Start(ctx context.Context) {
	s.bindTransport()
}

// Close unsubscribes from the transport and writes a best-effort snapshot of
// the conversation state.
func (s *Service) Close(ctx context.Context) {
	s.unbindTransport()
	s.snapshot(ctx)
}

// SendMessage validates content, inserts an optimistic message and emits it
// on the transport. When the transport is disconnected the message is still
// recorded with a failed status so it stays visible and retryable, but no
// emit is attempted and ErrTransportUnavailable is returned.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string, attachments []entity.Attachment) (entity.Message, error) {
	if err := entity.ValidateContent(content); err != nil {
		return entity.Message{}, err
	}

	msg := entity.Message{
		ID:             entity.PendingID(uuid.NewString()),
		ConversationID: conversationID,
		Sender:         s.self,
		Content:        content,
		Attachments:    attachments,
		Status:         entity.StatusSending,
		Timestamp:      time.Now(),
	}

	if !s.transport.Connected() {
		msg.Status = entity.StatusFailed
		s.store.UpsertMessage(msg)
		return msg, entity.ErrTransportUnavailable
	}

	s.store.UpsertMessage(msg)
	s.joinConversation(ctx, conversationID)

	if err := s.emitSend(ctx, msg); err != nil {
		s.store.MarkFailed(msg.ID.TempID())
		msg.Status = entity.StatusFailed
		return msg, fmt.Errorf("emitting message: %w", err)
	}
	return msg, nil
}

// RetryFailedMessage re-sends a previously failed message with its original
// content and conversation. Retry is explicit only; there is no automatic
// retry and no upper bound on the retry count.
func (s *Service) RetryFailedMessage(ctx context.Context, messageID string) error {
	orig, ok := s.store.FindMessage(messageID)
	if !ok {
		return entity.ErrMessageNotFound
	}
	if orig.Status != entity.StatusFailed {
		return entity.ErrMessageNotFailed
	}
	if !s.transport.Connected() {
		return entity.ErrTransportUnavailable
	}

	msg, ok := s.store.MarkRetrying(messageID)
	if !ok {
		return entity.ErrMessageNotFailed
	}
	s.joinConversation(ctx, msg.ConversationID)

	if err := s.emitSend(ctx, msg); err != nil {
		s.store.MarkFailed(messageID)
		return fmt.Errorf("retrying message: %w", err)
	}
	return nil
}

// LoadConversationHistory fetches one page of past messages and merges it
// into the store. Page 1 replaces the conversation's message list; later
// pages are prepended and deduplicated. At most one fetch per conversation
// is in flight at a time; a concurrent call is a no-op.
func (s *Service) LoadConversationHistory(ctx context.Context, conversationID string, page int) error {
	if page <= 0 {
		page = 1
	}

	started, found := s.store.BeginHistoryLoad(conversationID)
	if !found {
		return entity.ErrConversationNotFound
	}
	if !started {
		return nil
	}

	result, err := s.history.GetMessages(ctx, conversationID, page, s.pageSize)
	if err != nil {
		s.store.AbortHistoryLoad(conversationID)
		return fmt.Errorf("fetching history page %d: %w", page, err)
	}

	if page == 1 {
		s.store.ReplaceHistory(conversationID, result.Messages, result.HasMore)
	} else {
		s.store.PrependHistory(conversationID, result.Messages, result.HasMore, page)
	}
	return nil
}

// SetActiveConversation marks a conversation as the one the user is viewing.
// Its unread count resets and its channel is joined.
func (s *Service) SetActiveConversation(ctx context.Context, conversationID string) {
	s.store.SetActive(conversationID)
	if conversationID != "" {
		s.joinConversation(ctx, conversationID)
	}
}

// ClearUnreadCount acknowledges a conversation, resetting its unread count.
func (s *Service) ClearUnreadCount(conversationID string) error {
	if !s.store.ClearUnread(conversationID) {
		return entity.ErrConversationNotFound
	}
	return nil
}

// GetConversation returns a snapshot of one conversation.
func (s *Service) GetConversation(conversationID string) (entity.Conversation, error) {
	conv, ok := s.store.Get(conversationID)
	if !ok {
		return entity.Conversation{}, entity.ErrConversationNotFound
	}
	return conv, nil
}

// GetConversationList returns all conversations, most recently updated
// first.
func (s *Service) GetConversationList() []entity.Conversation {
	return s.store.List()
}

// TotalUnreadCount returns the unread total across all conversations.
func (s *Service) TotalUnreadCount() int {
	return s.store.TotalUnread()
}

// StartConversation resolves (or creates) the conversation with the given
// participant through the backend and tracks it in the store.
func (s *Service) StartConversation(ctx context.Context, participantID string) (entity.Conversation, error) {
	conv, err := s.history.GetOrCreateConversation(ctx, participantID)
	if err != nil {
		return entity.Conversation{}, fmt.Errorf("resolving conversation: %w", err)
	}
	s.store.UpsertConversation(*conv)
	out, _ := s.store.Get(conv.ID)
	return out, nil
}

// RefreshConversations pages through the backend's conversation list and
// merges the summaries into the store. Also repairs participant metadata on
// conversations that were synthesized from a live message's sender.
func (s *Service) RefreshConversations(ctx context.Context) error {
	page := 1
	for {
		result, err := s.history.ListConversations(ctx, page, s.pageSize)
		if err != nil {
			return fmt.Errorf("listing conversations page %d: %w", page, err)
		}
		for _, conv := range result.Conversations {
			s.store.UpsertConversation(conv)
		}
		if !result.HasMore || len(result.Conversations) == 0 {
			return nil
		}
		page++
	}
}

// UploadAttachment stores an attachment and returns its reference.
func (s *Service) UploadAttachment(ctx context.Context, in UploadAttachmentInput) (*entity.Attachment, error) {
	if s.uploader == nil {
		return nil, fmt.Errorf("attachment storage is not configured")
	}
	att, err := s.uploader.Upload(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("uploading attachment: %w", err)
	}
	return att, nil
}

// Logout snapshots and clears all conversation state.
func (s *Service) Logout(ctx context.Context) {
	s.snapshot(ctx)
	s.store.Reset()

	s.mu.Lock()
	s.joined = make(map[string]bool)
	s.mu.Unlock()
}

// emitSend pushes a message onto the transport.
func (s *Service) emitSend(ctx context.Context, msg entity.Message) error {
	payload := transport.SendMessagePayload{
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		TempID:         msg.ID.TempID(),
	}
	for _, att := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, transport.WireAttachment{
			Key:         att.Key,
			URL:         att.URL,
			Name:        att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	return s.transport.Emit(ctx, transport.EventSendMessage, payload)
}

// joinConversation joins a conversation's channel once per session. The
// joined set makes re-joins idempotent.
func (s *Service) joinConversation(ctx context.Context, conversationID string) {
	s.mu.Lock()
	already := s.joined[conversationID]
	s.mu.Unlock()
	if already || !s.transport.Connected() {
		return
	}

	err := s.transport.Emit(ctx, transport.EventJoinConversation, transport.JoinConversationPayload{
		ConversationID: conversationID,
	})
	if err != nil {
		s.logger.Warn("joining conversation channel failed", "conversation_id", conversationID, "error", err)
		return
	}

	s.mu.Lock()
	s.joined[conversationID] = true
	s.mu.Unlock()
}

// snapshot writes a best-effort snapshot of conversation summaries.
func (s *Service) snapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveConversations(ctx, s.store.List()); err != nil {
		s.logger.Warn("conversation snapshot failed", "error", err)
	}
}
