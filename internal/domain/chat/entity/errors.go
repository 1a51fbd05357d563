package entity

import "errors"

// Domain errors for the chat engine
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message content cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrTransportUnavailable = errors.New("real-time transport is not connected")
	ErrMessageNotFailed     = errors.New("message is not in a failed state")
	ErrInvalidStatus        = errors.New("invalid message status")
)
