package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListConversations(t *testing.T) {
	var gotPath, gotAuth string
	var gotQuery map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()

		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{
				{
					"id": "c1",
					"participants": []map[string]any{
						{"id": "me", "name": "Me"},
						{"id": "u2", "name": "Peer", "online": true},
					},
					"last_message": map[string]any{
						"content":   "hi",
						"timestamp": time.Now().Format(time.RFC3339),
						"sender_id": "u2",
					},
					"unread_count": 3,
				},
				{
					"id": "c2",
					"participants": []map[string]any{
						{"id": "me"},
						{"id": "u3"},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL), WithAuthToken("tok"))

	page, err := client.ListConversations(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}

	if gotPath != "/v1/chat/conversations" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotQuery["page"][0] != "1" || gotQuery["limit"][0] != "2" {
		t.Errorf("query = %v", gotQuery)
	}

	if len(page.Conversations) != 2 {
		t.Fatalf("got %d conversations, want 2", len(page.Conversations))
	}
	// Full page implies more may follow.
	if !page.HasMore {
		t.Errorf("HasMore = false for a full page")
	}

	conv := page.Conversations[0]
	if conv.Self.ID != "me" || conv.Counterpart.ID != "u2" {
		t.Errorf("participant split wrong: self=%s counterpart=%s", conv.Self.ID, conv.Counterpart.ID)
	}
	if !conv.Counterpart.Online || conv.UnreadCount != 3 {
		t.Errorf("summary fields lost: online=%v unread=%d", conv.Counterpart.Online, conv.UnreadCount)
	}
}

func TestListConversationsPartialPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []map[string]any{{"id": "c1"}},
		})
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL))

	page, err := client.ListConversations(context.Background(), 1, 50)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if page.HasMore {
		t.Errorf("HasMore = true for a partial page")
	}
}

func TestGetMessages(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/conversations/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{
					"id":        "m1",
					"sender":    map[string]any{"id": "u2", "name": "Peer"},
					"content":   "hello",
					"status":    "read",
					"timestamp": ts.Format(time.RFC3339),
				},
				{
					"id":        "m2",
					"sender":    map[string]any{"id": "u2"},
					"content":   "file for you",
					"timestamp": ts.Add(time.Minute).Format(time.RFC3339),
					"attachments": []map[string]any{
						{"key": "attachments/2026/03/01/a.pdf", "url": "https://cdn/a.pdf", "content_type": "application/pdf"},
					},
				},
			},
			"has_more": true,
		})
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL))

	page, err := client.GetMessages(context.Background(), "c1", 2, 50)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("page: %d messages, hasMore=%v", len(page.Messages), page.HasMore)
	}

	first := page.Messages[0]
	if first.ID.ServerID() != "m1" || first.Optimistic() {
		t.Errorf("identity wrong: id=%s optimistic=%v", first.ID.ServerID(), first.Optimistic())
	}
	if string(first.Status) != "read" || first.ConversationID != "c1" {
		t.Errorf("fields wrong: status=%s conv=%s", first.Status, first.ConversationID)
	}

	second := page.Messages[1]
	// Absent status defaults to sent.
	if string(second.Status) != "sent" {
		t.Errorf("default status = %s, want sent", second.Status)
	}
	if len(second.Attachments) != 1 || second.Attachments[0].ContentType != "application/pdf" {
		t.Errorf("attachments lost: %+v", second.Attachments)
	}
}

func TestGetOrCreateConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["participant_id"] != "u2" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{
				"id": "c1",
				"participants": []map[string]any{
					{"id": "me"},
					{"id": "u2", "name": "Peer"},
				},
			},
		})
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL))

	conv, err := client.GetOrCreateConversation(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	if conv.ID != "c1" || conv.Counterpart.Name != "Peer" {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "token expired", "code": "AUTH_EXPIRED"},
		})
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL))

	_, err := client.ListConversations(context.Background(), 1, 50)
	if err == nil {
		t.Fatalf("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "AUTH_EXPIRED" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	}))
	defer server.Close()

	client := New("me", WithBaseURL(server.URL))

	_, err := client.GetMessages(context.Background(), "c1", 1, 50)
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("non-JSON body should not decode into APIError")
	}
}
