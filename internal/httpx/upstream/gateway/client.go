// Package gateway is the REST client for the consultation platform backend:
// paginated conversation summaries, message history and conversation
// resolution. Only the request/response contracts are consumed here; the
// backend itself is an external collaborator.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vadim/consync/internal/domain/chat/entity"
)

const (
	defaultBaseURL    = "https://api.consulta.app"
	defaultAPIVersion = "v1"
	defaultTimeout    = 30 * time.Second
)

// Client is a platform backend API client scoped to one authenticated user.
type Client struct {
	baseURL    string
	apiVersion string
	authToken  string
	selfUserID string
	httpClient *http.Client
}

// ClientOption is a function that configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIVersion sets the API version
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithAuthToken sets the bearer token sent with every request
func WithAuthToken(token string) ClientOption {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a new backend API client. selfUserID identifies the session
// user so conversation participants can be split into self and counterpart.
func New(selfUserID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiVersion: defaultAPIVersion,
		selfUserID: selfUserID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error returned by the backend
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway API error: %s (status: %d, code: %s)", e.Message, e.Status, e.Code)
}

// ErrorResponse represents an error response body from the API
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type participantDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
	Online    bool   `json:"online"`
}

type lastMessageDTO struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"sender_id"`
}

type conversationDTO struct {
	ID           string           `json:"id"`
	Participants []participantDTO `json:"participants"`
	LastMessage  lastMessageDTO   `json:"last_message"`
	UnreadCount  int              `json:"unread_count"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type attachmentDTO struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type messageDTO struct {
	ID          string          `json:"id"`
	Sender      participantDTO  `json:"sender"`
	Content     string          `json:"content"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
	Status      string          `json:"status,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Deleted     bool            `json:"deleted,omitempty"`
}

// ConversationsPage is one page of conversation summaries.
type ConversationsPage struct {
	Conversations []entity.Conversation
	HasMore       bool
}

// MessagesPage is one page of historical messages.
type MessagesPage struct {
	Messages []entity.Message
	HasMore  bool
}

// ListConversations fetches one page of the user's conversations.
func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ConversationsPage, error) {
	endpoint := fmt.Sprintf("%s/%s/chat/conversations", c.baseURL, c.apiVersion)

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out struct {
		Conversations []conversationDTO `json:"conversations"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	result := &ConversationsPage{
		Conversations: make([]entity.Conversation, 0, len(out.Conversations)),
		HasMore:       len(out.Conversations) == limit,
	}
	for _, dto := range out.Conversations {
		result.Conversations = append(result.Conversations, c.toConversation(dto))
	}
	return result, nil
}

// GetMessages fetches one page of a conversation's message history.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, limit int) (*MessagesPage, error) {
	endpoint := fmt.Sprintf("%s/%s/chat/conversations/%s/messages", c.baseURL, c.apiVersion, url.PathEscape(conversationID))

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var out struct {
		Messages []messageDTO `json:"messages"`
		HasMore  bool         `json:"has_more"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	result := &MessagesPage{
		Messages: make([]entity.Message, 0, len(out.Messages)),
		HasMore:  out.HasMore,
	}
	for _, dto := range out.Messages {
		result.Messages = append(result.Messages, toMessage(conversationID, dto))
	}
	return result, nil
}

// GetOrCreateConversation resolves the conversation with the given
// participant, creating it server-side if needed.
func (c *Client) GetOrCreateConversation(ctx context.Context, participantID string) (*entity.Conversation, error) {
	endpoint := fmt.Sprintf("%s/%s/chat/conversations", c.baseURL, c.apiVersion)

	body, err := json.Marshal(map[string]string{"participant_id": participantID})
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Conversation conversationDTO `json:"conversation"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	conv := c.toConversation(out.Conversation)
	return &conv, nil
}

func (c *Client) toConversation(dto conversationDTO) entity.Conversation {
	conv := entity.Conversation{
		ID: dto.ID,
		LastMessage: entity.LastMessage{
			Content:   dto.LastMessage.Content,
			Timestamp: dto.LastMessage.Timestamp,
			SenderID:  dto.LastMessage.SenderID,
		},
		UnreadCount: dto.UnreadCount,
		UpdatedAt:   dto.UpdatedAt,
	}
	for _, p := range dto.Participants {
		participant := entity.Participant{
			ID:        p.ID,
			Name:      p.Name,
			AvatarURL: p.AvatarURL,
			Role:      p.Role,
			Online:    p.Online,
		}
		if p.ID == c.selfUserID {
			conv.Self = participant
		} else {
			conv.Counterpart = participant
		}
	}
	return conv
}

func toMessage(conversationID string, dto messageDTO) entity.Message {
	status := entity.MessageStatus(dto.Status)
	if !status.Valid() {
		status = entity.StatusSent
	}

	msg := entity.Message{
		ID:             entity.ConfirmedID(dto.ID),
		ConversationID: conversationID,
		Sender: entity.Participant{
			ID:        dto.Sender.ID,
			Name:      dto.Sender.Name,
			AvatarURL: dto.Sender.AvatarURL,
			Role:      dto.Sender.Role,
		},
		Content:   dto.Content,
		Status:    status,
		Timestamp: dto.Timestamp,
		Deleted:   dto.Deleted,
	}
	for _, att := range dto.Attachments {
		msg.Attachments = append(msg.Attachments, entity.Attachment{
			Key:         att.Key,
			URL:         att.URL,
			Name:        att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	return msg
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	// Check for error response
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
		}
		errResp.Error.Status = resp.StatusCode
		return &errResp.Error
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
