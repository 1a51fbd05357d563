package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/consync/internal/domain/chat/entity"
	"github.com/vadim/consync/internal/domain/chat/service"
)

// fakeEngine implements ChatEngine with canned behavior per test.
type fakeEngine struct {
	sendMessage   func(conversationID, content string) (entity.Message, error)
	retry         func(messageID string) error
	loadHistory   func(conversationID string, page int) error
	clearUnread   func(conversationID string) error
	getConv       func(conversationID string) (entity.Conversation, error)
	start         func(participantID string) (entity.Conversation, error)
	upload        func(in service.UploadAttachmentInput) (*entity.Attachment, error)
	conversations []entity.Conversation
	totalUnread   int
	activatedID   string
	loadedPage    int
}

func (f *fakeEngine) SendMessage(ctx context.Context, conversationID, content string, attachments []entity.Attachment) (entity.Message, error) {
	if f.sendMessage != nil {
		return f.sendMessage(conversationID, content)
	}
	return entity.Message{}, nil
}

func (f *fakeEngine) RetryFailedMessage(ctx context.Context, messageID string) error {
	if f.retry != nil {
		return f.retry(messageID)
	}
	return nil
}

func (f *fakeEngine) LoadConversationHistory(ctx context.Context, conversationID string, page int) error {
	f.loadedPage = page
	if f.loadHistory != nil {
		return f.loadHistory(conversationID, page)
	}
	return nil
}

func (f *fakeEngine) SetActiveConversation(ctx context.Context, conversationID string) {
	f.activatedID = conversationID
}

func (f *fakeEngine) ClearUnreadCount(conversationID string) error {
	if f.clearUnread != nil {
		return f.clearUnread(conversationID)
	}
	return nil
}

func (f *fakeEngine) GetConversation(conversationID string) (entity.Conversation, error) {
	if f.getConv != nil {
		return f.getConv(conversationID)
	}
	return entity.Conversation{ID: conversationID}, nil
}

func (f *fakeEngine) GetConversationList() []entity.Conversation {
	return f.conversations
}

func (f *fakeEngine) TotalUnreadCount() int {
	return f.totalUnread
}

func (f *fakeEngine) StartConversation(ctx context.Context, participantID string) (entity.Conversation, error) {
	if f.start != nil {
		return f.start(participantID)
	}
	return entity.Conversation{}, nil
}

func (f *fakeEngine) UploadAttachment(ctx context.Context, in service.UploadAttachmentInput) (*entity.Attachment, error) {
	if f.upload != nil {
		return f.upload(in)
	}
	return &entity.Attachment{}, nil
}

func newTestRouter(engine ChatEngine) http.Handler {
	r := chi.NewRouter()
	NewChatHandler(engine).RegisterRoutes(r)
	return r
}

func TestGetConversations(t *testing.T) {
	engine := &fakeEngine{
		conversations: []entity.Conversation{{ID: "c1", UnreadCount: 2}, {ID: "c2"}},
		totalUnread:   2,
	}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/conversations", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp GetConversationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Conversations) != 2 || resp.TotalUnread != 2 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStartConversation(t *testing.T) {
	engine := &fakeEngine{
		start: func(participantID string) (entity.Conversation, error) {
			return entity.Conversation{ID: "c1", Counterpart: entity.Participant{ID: participantID}}, nil
		},
	}
	router := newTestRouter(engine)

	body := bytes.NewBufferString(`{"participant_id":"u2"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestStartConversationMissingParticipant(t *testing.T) {
	router := newTestRouter(&fakeEngine{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations", bytes.NewBufferString(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetMessagesTriggersHistoryLoad(t *testing.T) {
	engine := &fakeEngine{
		getConv: func(conversationID string) (entity.Conversation, error) {
			return entity.Conversation{
				ID:       conversationID,
				Messages: []entity.Message{{ID: entity.ConfirmedID("m1"), Timestamp: time.Now()}},
				Page:     2,
				HasMore:  true,
			}, nil
		},
	}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/conversations/c1/messages?page=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if engine.loadedPage != 2 {
		t.Fatalf("history loaded with page %d, want 2", engine.loadedPage)
	}

	var resp GetMessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Page != 2 || !resp.HasMore {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGetMessagesUnknownConversation(t *testing.T) {
	engine := &fakeEngine{
		loadHistory: func(conversationID string, page int) error {
			return entity.ErrConversationNotFound
		},
	}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/conversations/missing/messages", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	engine := &fakeEngine{
		sendMessage: func(conversationID, content string) (entity.Message, error) {
			return entity.Message{
				ID:             entity.PendingID("tmp-1"),
				ConversationID: conversationID,
				Content:        content,
				Status:         entity.StatusSending,
			}, nil
		},
	}
	router := newTestRouter(engine)

	body := bytes.NewBufferString(`{"content":"hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations/c1/messages", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "tmp-1") {
		t.Fatalf("response missing optimistic identity: %s", rec.Body.String())
	}
}

func TestSendMessageValidation(t *testing.T) {
	engine := &fakeEngine{
		sendMessage: func(conversationID, content string) (entity.Message, error) {
			return entity.Message{}, entity.ErrEmptyMessage
		},
	}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations/c1/messages", bytes.NewBufferString(`{"content":""}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	engine := &fakeEngine{
		sendMessage: func(conversationID, content string) (entity.Message, error) {
			return entity.Message{
				ID:      entity.PendingID("tmp-1"),
				Content: content,
				Status:  entity.StatusFailed,
			}, entity.ErrTransportUnavailable
		},
	}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations/c1/messages", bytes.NewBufferString(`{"content":"hello"}`)))

	// The failed message is still returned so the caller can offer a retry.
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "failed") {
		t.Fatalf("response should carry the failed message: %s", rec.Body.String())
	}
}

func TestActivateConversation(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations/c1/activate", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if engine.activatedID != "c1" {
		t.Fatalf("activated %q, want c1", engine.activatedID)
	}
}

func TestRetryMessage(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"success", nil, http.StatusNoContent},
		{"unknown message", entity.ErrMessageNotFound, http.StatusNotFound},
		{"not failed", entity.ErrMessageNotFailed, http.StatusConflict},
		{"disconnected", entity.ErrTransportUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{retry: func(messageID string) error { return tc.err }}
			router := newTestRouter(engine)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/messages/m1/retry", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestClearUnread(t *testing.T) {
	engine := &fakeEngine{}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/conversations/c1/read", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestGetTotalUnread(t *testing.T) {
	engine := &fakeEngine{totalUnread: 7}
	router := newTestRouter(engine)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/unread", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp TotalUnreadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.TotalUnread != 7 {
		t.Fatalf("total unread = %d, want 7", resp.TotalUnread)
	}
}
