package service

import (
	"context"
	"encoding/json"

	"github.com/vadim/consync/internal/domain/chat/entity"
	"github.com/vadim/consync/internal/transport"
)

// bindTransport subscribes the engine to the live event stream. Every event
// is normalized into the same store insertion path used by optimistic sends
// and history loads, so duplicate handling is uniform across origins.
func (s *Service) bindTransport() {
	s.transport.On(transport.EventConnect, s.onConnect)
	s.transport.On(transport.EventDisconnect, s.onDisconnect)
	s.transport.On(transport.EventNewMessage, s.onNewMessage)
	s.transport.On(transport.EventMessageDelivered, s.onMessageDelivered)
	s.transport.On(transport.EventMessageStatusChanged, s.onMessageStatusChanged)
	s.transport.On(transport.EventUserOnline, s.onUserOnline)
	s.transport.On(transport.EventUserOffline, s.onUserOffline)
	s.transport.On(transport.EventMissedMessages, s.onMissedMessages)
	s.transport.On(transport.EventReconnectionComplete, s.onReconnectionComplete)
}

func (s *Service) unbindTransport() {
	for _, event := range []string{
		transport.EventConnect,
		transport.EventDisconnect,
		transport.EventNewMessage,
		transport.EventMessageDelivered,
		transport.EventMessageStatusChanged,
		transport.EventUserOnline,
		transport.EventUserOffline,
		transport.EventMissedMessages,
		transport.EventReconnectionComplete,
	} {
		s.transport.Off(event)
	}
}

func (s *Service) onConnect(json.RawMessage) {
	s.logger.Info("transport connected")
}

// onDisconnect only logs: connectivity is owned by the adapter, and no send
// queue is held across a disconnect. Failed sends stay failed until the user
// retries.
func (s *Service) onDisconnect(json.RawMessage) {
	s.logger.Info("transport disconnected")
}

func (s *Service) onNewMessage(raw json.RawMessage) {
	var p transport.NewMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("dropping malformed new_message event", "error", err)
		return
	}
	s.applyWire(p.ConversationID, p.Message)
}

func (s *Service) onMessageDelivered(raw json.RawMessage) {
	var p transport.MessageDeliveredPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("dropping malformed message_delivered event", "error", err)
		return
	}
	if !s.store.UpdateStatus(p.MessageID, entity.StatusDelivered) {
		s.logger.Debug("delivery ack for unknown message", "message_id", p.MessageID)
	}
}

func (s *Service) onMessageStatusChanged(raw json.RawMessage) {
	var p transport.MessageStatusChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("dropping malformed message_status_changed event", "error", err)
		return
	}
	status := entity.MessageStatus(p.Status)
	if !status.Valid() {
		s.logger.Warn("dropping status change with unknown status", "message_id", p.MessageID, "status", p.Status)
		return
	}
	s.store.UpdateStatus(p.MessageID, status)
}

func (s *Service) onUserOnline(raw json.RawMessage) {
	s.applyPresence(raw, true)
}

func (s *Service) onUserOffline(raw json.RawMessage) {
	s.applyPresence(raw, false)
}

// applyPresence propagates an online/offline event to every conversation
// sharing that participant identity, not just one.
func (s *Service) applyPresence(raw json.RawMessage, online bool) {
	var p transport.PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("dropping malformed presence event", "error", err)
		return
	}
	s.store.SetPresence(p.UserID, online)
}

// onMissedMessages replays the batch delivered after a reconnect through the
// identical insertion path used for live messages, so messages already seen
// live are deduplicated rather than duplicated.
func (s *Service) onMissedMessages(raw json.RawMessage) {
	var p transport.MissedMessagesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("dropping malformed missed_messages event", "error", err)
		return
	}
	for _, wire := range p.Messages {
		s.applyWire(p.ConversationID, wire)
	}
}

// onReconnectionComplete re-subscribes to the active conversation's channel.
// The server side lost channel membership during the gap, so the join is
// forced; the joined set keeps other client-side joins idempotent.
func (s *Service) onReconnectionComplete(json.RawMessage) {
	active := s.store.ActiveID()
	if active == "" {
		return
	}

	ctx := context.Background()
	err := s.transport.Emit(ctx, transport.EventJoinConversation, transport.JoinConversationPayload{
		ConversationID: active,
	})
	if err != nil {
		s.logger.Warn("rejoining active conversation failed", "conversation_id", active, "error", err)
		return
	}

	s.mu.Lock()
	s.joined[active] = true
	s.mu.Unlock()
}

// applyWire normalizes one wire message into the store. A message carrying
// our temporary identity is the server's acknowledgment of an optimistic
// send and is reconciled against the existing entry; anything else goes
// through the incoming path, which synthesizes the conversation if needed
// and tracks unread counts.
func (s *Service) applyWire(conversationID string, wire transport.WireMessage) {
	if wire.ID == "" && wire.TempID == "" {
		s.logger.Warn("dropping message without identity", "conversation_id", conversationID)
		return
	}

	if wire.TempID != "" && wire.ID != "" {
		status := entity.MessageStatus(wire.Status)
		if !status.Valid() {
			status = entity.StatusSent
		}
		if s.store.ConfirmMessage(wire.TempID, wire.ID, status) {
			return
		}
	}

	s.store.ApplyIncoming(fromWire(conversationID, wire))
}

// fromWire converts a wire message to its domain form. An absent or unknown
// status is treated as sent, the baseline for a server-confirmed message.
func fromWire(conversationID string, wire transport.WireMessage) entity.Message {
	status := entity.MessageStatus(wire.Status)
	if !status.Valid() {
		status = entity.StatusSent
	}

	var id entity.MessageID
	if wire.ID != "" {
		id = entity.ConfirmedID(wire.ID)
	} else {
		id = entity.PendingID(wire.TempID)
	}

	msg := entity.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender: entity.Participant{
			ID:        wire.Sender.ID,
			Name:      wire.Sender.Name,
			AvatarURL: wire.Sender.AvatarURL,
			Role:      wire.Sender.Role,
		},
		Content:   wire.Content,
		Status:    status,
		Timestamp: wire.Timestamp,
		Deleted:   wire.Deleted,
	}
	for _, att := range wire.Attachments {
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
