package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/consync/internal/domain/chat/entity"
	"github.com/vadim/consync/internal/domain/chat/service"
	"github.com/vadim/consync/internal/httpx/response"
)

const maxAttachmentSize = 32 << 20 // 32MB

// ChatEngine defines the interface for chat engine operations
type ChatEngine interface {
	SendMessage(ctx context.Context, conversationID, content string, attachments []entity.Attachment) (entity.Message, error)
	RetryFailedMessage(ctx context.Context, messageID string) error
	LoadConversationHistory(ctx context.Context, conversationID string, page int) error
	SetActiveConversation(ctx context.Context, conversationID string)
	ClearUnreadCount(conversationID string) error
	GetConversation(conversationID string) (entity.Conversation, error)
	GetConversationList() []entity.Conversation
	TotalUnreadCount() int
	StartConversation(ctx context.Context, participantID string) (entity.Conversation, error)
	UploadAttachment(ctx context.Context, in service.UploadAttachmentInput) (*entity.Attachment, error)
}

// ChatHandler handles HTTP requests for the chat engine
type ChatHandler struct {
	engine ChatEngine
}

// NewChatHandler creates a new chat handler
func NewChatHandler(engine ChatEngine) *ChatHandler {
	return &ChatHandler{engine: engine}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/conversations", h.GetConversations())
		r.Post("/conversations", h.StartConversation())
		r.Get("/conversations/{conversationId}", h.GetConversation())
		r.Get("/conversations/{conversationId}/messages", h.GetMessages())
		r.Post("/conversations/{conversationId}/messages", h.SendMessage())
		r.Post("/conversations/{conversationId}/activate", h.ActivateConversation())
		r.Post("/conversations/{conversationId}/read", h.ClearUnread())
		r.Post("/messages/{messageId}/retry", h.RetryMessage())
		r.Get("/unread", h.GetTotalUnread())
		r.Post("/attachments", h.UploadAttachment())
	})
}

// GetConversationsResponse represents the response for the conversation list
type GetConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	TotalUnread   int                   `json:"total_unread"`
}

// GetConversations handles GET /chat/conversations
func (h *ChatHandler) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, GetConversationsResponse{
			Conversations: h.engine.GetConversationList(),
			TotalUnread:   h.engine.TotalUnreadCount(),
		})
	}
}

// StartConversationRequest represents the request to start a conversation
type StartConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// StartConversation handles POST /chat/conversations
func (h *ChatHandler) StartConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		if req.ParticipantID == "" {
			response.BadRequest(w, "participant_id is required")
			return
		}

		conv, err := h.engine.StartConversation(r.Context(), req.ParticipantID)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.Created(w, conv)
	}
}

// GetConversation handles GET /chat/conversations/{conversationId}
func (h *ChatHandler) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := h.engine.GetConversation(chi.URLParam(r, "conversationId"))
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// GetMessagesResponse represents the response for a conversation's messages
type GetMessagesResponse struct {
	Messages []entity.Message `json:"messages"`
	Page     int              `json:"page"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages handles GET /chat/conversations/{conversationId}/messages.
// A page query parameter triggers a history load before the snapshot is
// returned.
func (h *ChatHandler) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationId")

		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
				page = parsed
			}
		}

		if err := h.engine.LoadConversationHistory(r.Context(), conversationID, page); err != nil {
			handleChatError(w, err)
			return
		}

		conv, err := h.engine.GetConversation(conversationID)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.OK(w, GetMessagesResponse{
			Messages: conv.Messages,
			Page:     conv.Page,
			HasMore:  conv.HasMore,
		})
	}
}

// SendMessageRequest represents the request to send a message
type SendMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

// SendMessage handles POST /chat/conversations/{conversationId}/messages
func (h *ChatHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		msg, err := h.engine.SendMessage(r.Context(), chi.URLParam(r, "conversationId"), req.Content, req.Attachments)
		if err != nil {
			// A disconnected send still records the message, so return it
			// alongside the error status for the retry affordance.
			if errors.Is(err, entity.ErrTransportUnavailable) {
				response.JSON(w, http.StatusServiceUnavailable, msg)
				return
			}
			handleChatError(w, err)
			return
		}
		response.Created(w, msg)
	}
}

// ActivateConversation handles POST /chat/conversations/{conversationId}/activate
func (h *ChatHandler) ActivateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.engine.SetActiveConversation(r.Context(), chi.URLParam(r, "conversationId"))
		response.NoContent(w)
	}
}

// ClearUnread handles POST /chat/conversations/{conversationId}/read
func (h *ChatHandler) ClearUnread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.engine.ClearUnreadCount(chi.URLParam(r, "conversationId")); err != nil {
			handleChatError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// RetryMessage handles POST /chat/messages/{messageId}/retry
func (h *ChatHandler) RetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.engine.RetryFailedMessage(r.Context(), chi.URLParam(r, "messageId")); err != nil {
			handleChatError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// TotalUnreadResponse represents the total unread count
type TotalUnreadResponse struct {
	TotalUnread int `json:"total_unread"`
}

// GetTotalUnread handles GET /chat/unread
func (h *ChatHandler) GetTotalUnread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, TotalUnreadResponse{TotalUnread: h.engine.TotalUnreadCount()})
	}
}

// UploadAttachment handles POST /chat/attachments (multipart form, "file"
// field)
func (h *ChatHandler) UploadAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
			response.BadRequest(w, "invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "file field is required")
			return
		}
		defer file.Close()

		att, err := h.engine.UploadAttachment(r.Context(), service.UploadAttachmentInput{
			Reader:      file,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
		})
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.Created(w, att)
	}
}

func handleChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrConversationNotFound),
		errors.Is(err, entity.ErrMessageNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrEmptyMessage),
		errors.Is(err, entity.ErrMessageTooLong):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrMessageNotFailed):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrTransportUnavailable):
		response.ServiceUnavailable(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
