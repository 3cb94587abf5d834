// Package service orchestrates the messaging flows: routing validation,
// thread find-or-create, message append, cache updates and realtime fan-out.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keyhaven/messaging-service/internal/clients"
	"github.com/keyhaven/messaging-service/internal/events"
	"github.com/keyhaven/messaging-service/internal/models"
	"github.com/keyhaven/messaging-service/internal/notify"
	"github.com/keyhaven/messaging-service/internal/routing"
	"github.com/keyhaven/messaging-service/internal/store"
)

var (
	ErrValidation = errors.New("invalid request")
	ErrForbidden  = errors.New("not a participant of this thread")
)

// RoutingError carries the policy reason so callers can explain the refusal.
type RoutingError struct {
	Reason routing.Reason
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("messaging between these roles is not permitted (%s)", e.Reason)
}

// SendMessageRequest is the single typed contract for sending. Either
// ThreadID or RecipientID identifies the destination, never both required.
// Legacy field aliases are normalized away at the HTTP boundary before this
// struct is built.
type SendMessageRequest struct {
	ThreadID    string
	RecipientID string
	PropertyID  string
	Text        string
}

type ConversationService struct {
	threads  store.ThreadStore
	messages store.MessageStore
	identity clients.Identity
	property clients.Property
	notifier notify.Notifier
	events   events.Publisher
	log      *zap.SugaredLogger
}

func NewConversationService(
	threads store.ThreadStore,
	messages store.MessageStore,
	identity clients.Identity,
	property clients.Property,
	notifier notify.Notifier,
	publisher events.Publisher,
	log *zap.SugaredLogger,
) *ConversationService {
	return &ConversationService{
		threads:  threads,
		messages: messages,
		identity: identity,
		property: property,
		notifier: notifier,
		events:   publisher,
		log:      log,
	}
}

// SendMessage validates routing, resolves or creates the thread, appends the
// message and updates the thread caches. Notification is fire-and-forget:
// once the message is persisted the call succeeds.
func (s *ConversationService) SendMessage(ctx context.Context, senderID string, req SendMessageRequest) (*models.MessageDTO, error) {
	if req.ThreadID == "" && req.RecipientID == "" {
		return nil, fmt.Errorf("%w: thread_id or recipient_id required", ErrValidation)
	}

	sender, err := s.identity.Profile(ctx, senderID)
	if err != nil {
		return nil, err
	}

	var thread *models.Thread
	if req.ThreadID != "" {
		thread, err = s.threads.Get(ctx, req.ThreadID)
		if err != nil {
			return nil, err
		}
		if !thread.IsParticipant(senderID) {
			return nil, ErrForbidden
		}
		// roles were snapshotted at creation; re-check them against the
		// current policy before accepting more traffic on the thread
		if d := routing.AllowThread(thread); !d.Allowed {
			return nil, &RoutingError{Reason: d.Reason}
		}
	} else {
		thread, err = s.resolveThread(ctx, sender, req.RecipientID, req.PropertyID)
		if err != nil {
			return nil, err
		}
	}

	receiver, _ := thread.OtherParticipant(senderID)

	msg, err := s.messages.Append(ctx, thread, senderID, receiver.UserID, req.Text, models.MessageTypeText)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if _, err := s.threads.RecordIncomingMessage(ctx, thread.ID, senderID, msg.Content, msg.CreatedAt); err != nil {
		// roll the append back so no message exists without a consistent
		// thread cache referencing it
		if derr := s.messages.SoftDelete(ctx, msg.ID, senderID); derr != nil {
			s.log.Errorw("rollback of orphaned message failed", "message_id", msg.ID, "err", derr)
		}
		return nil, err
	}

	dto := s.messageDTO(msg, sender.Name, participantRole(thread, senderID), senderID)

	for _, p := range thread.Participants {
		s.notifier.Emit(p.UserID, notify.EventMessageNew, dto)
	}
	s.events.MessageSent(ctx, dto)

	return dto, nil
}

// EnsureThread is the idempotent find-or-create without a message.
func (s *ConversationService) EnsureThread(ctx context.Context, userID, otherUserID, propertyID string) (*models.ThreadDTO, error) {
	if otherUserID == "" || otherUserID == userID {
		return nil, fmt.Errorf("%w: a distinct other user is required", ErrValidation)
	}
	me, err := s.identity.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	thread, err := s.resolveThread(ctx, me, otherUserID, propertyID)
	if err != nil {
		return nil, err
	}
	return s.threadDTO(ctx, thread, userID), nil
}

// resolveThread runs the routing policy for a new pair and finds or creates
// the single active thread for (pair, property context).
func (s *ConversationService) resolveThread(ctx context.Context, sender *clients.Profile, recipientID, propertyID string) (*models.Thread, error) {
	if recipientID == sender.UserID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	recipient, err := s.identity.Profile(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if d := routing.Allow(sender.Role, recipient.Role); !d.Allowed {
		return nil, &RoutingError{Reason: d.Reason}
	}
	if propertyID != "" {
		ok, err := s.property.Exists(ctx, propertyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, clients.ErrPropertyNotFound
		}
	}

	thread, created, err := s.threads.FindOrCreate(ctx, []models.Participant{
		{UserID: sender.UserID, Role: sender.Role},
		{UserID: recipient.UserID, Role: recipient.Role},
	}, propertyID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if created {
		s.log.Infow("thread created", "thread_id", thread.ID, "property_id", propertyID)
	}
	return thread, nil
}

// GetConversation returns the full ordered message list for a participant,
// with the read flag scoped to the requester.
func (s *ConversationService) GetConversation(ctx context.Context, threadID, requesterID string) ([]*models.MessageDTO, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsParticipant(requesterID) {
		return nil, ErrForbidden
	}

	msgs, err := s.messages.ListByThread(ctx, threadID, false)
	if err != nil {
		return nil, err
	}

	names := s.participantNames(ctx, thread)
	out := make([]*models.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.messageDTO(m, names[m.SenderID], participantRole(thread, m.SenderID), requesterID))
	}
	return out, nil
}

// MarkThreadRead adds read receipts for every unread message and resets the
// requester's unread counter.
func (s *ConversationService) MarkThreadRead(ctx context.Context, threadID, requesterID string) error {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return err
	}
	if !thread.IsParticipant(requesterID) {
		return ErrForbidden
	}

	if _, err := s.messages.MarkThreadRead(ctx, threadID, requesterID, time.Now().UTC()); err != nil {
		return err
	}
	if err := s.threads.MarkRead(ctx, threadID, requesterID); err != nil {
		return err
	}

	if other, ok := thread.OtherParticipant(requesterID); ok {
		s.notifier.Emit(other.UserID, notify.EventThreadRead, map[string]string{
			"thread_id": threadID,
			"reader_id": requesterID,
		})
	}
	return nil
}

// ListThreads pages through the requester's active threads, newest first.
func (s *ConversationService) ListThreads(ctx context.Context, userID string, page, limit int64) (*models.ThreadListDTO, error) {
	threads, total, err := s.threads.ListForUser(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	items := make([]models.ThreadDTO, 0, len(threads))
	for _, t := range threads {
		items = append(items, *s.threadDTO(ctx, t, userID))
	}
	if page < 1 {
		page = 1
	}
	return &models.ThreadListDTO{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// GetThread returns the thread detail for a participant.
func (s *ConversationService) GetThread(ctx context.Context, threadID, requesterID string) (*models.ThreadDTO, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsParticipant(requesterID) {
		return nil, ErrForbidden
	}
	return s.threadDTO(ctx, thread, requesterID), nil
}

// DeleteMessage soft-deletes a message the actor sent.
func (s *ConversationService) DeleteMessage(ctx context.Context, messageID, actorID string) error {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return ErrForbidden
	}
	return s.messages.SoftDelete(ctx, messageID, actorID)
}

func (s *ConversationService) messageDTO(m *models.Message, senderName string, senderRole models.Role, viewerID string) *models.MessageDTO {
	read := m.ReadByUser(viewerID)
	if m.SenderID == viewerID {
		// a sender's own message carries the other side's read state
		read = m.ReadByUser(m.ReceiverID)
	}
	return &models.MessageDTO{
		ID:             m.ID,
		ConversationID: m.ThreadID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		SenderName:     senderName,
		SenderRole:     senderRole,
		MessageText:    m.Content,
		Timestamp:      m.CreatedAt,
		Read:           read,
	}
}

func (s *ConversationService) threadDTO(ctx context.Context, t *models.Thread, viewerID string) *models.ThreadDTO {
	names := s.participantNames(ctx, t)
	parts := make([]models.ParticipantDTO, 0, len(t.Participants))
	for _, p := range t.Participants {
		parts = append(parts, models.ParticipantDTO{UserID: p.UserID, Name: names[p.UserID], Role: p.Role})
	}

	title := ""
	if t.PropertyID != "" {
		var err error
		if title, err = s.property.Title(ctx, t.PropertyID); err != nil {
			s.log.Warnw("property title lookup failed", "property_id", t.PropertyID, "err", err)
			title = ""
		}
	}
	return &models.ThreadDTO{
		ID:            t.ID,
		Participants:  parts,
		PropertyID:    t.PropertyID,
		PropertyTitle: title,
		LastMessage:   t.LastMessage,
		UnreadCount:   t.UnreadFor(viewerID),
		UpdatedAt:     t.UpdatedAt,
	}
}

// participantNames resolves display names, tolerating identity outages: a
// missing name degrades the DTO, it does not fail the request.
func (s *ConversationService) participantNames(ctx context.Context, t *models.Thread) map[string]string {
	names := make(map[string]string, len(t.Participants))
	for _, p := range t.Participants {
		prof, err := s.identity.Profile(ctx, p.UserID)
		if err != nil {
			s.log.Warnw("profile lookup failed", "user_id", p.UserID, "err", err)
			continue
		}
		names[p.UserID] = prof.Name
	}
	return names
}

func participantRole(t *models.Thread, userID string) models.Role {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return p.Role
		}
	}
	return ""
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrValidation):
		return fmt.Errorf("%w: message text must be 1-%d characters", ErrValidation, models.MaxMessageLength)
	case errors.Is(err, store.ErrNotParticipant):
		return ErrForbidden
	case errors.Is(err, store.ErrInvalidParticipants):
		return fmt.Errorf("%w: invalid participant pair", ErrValidation)
	}
	return err
}
