package models

import "time"

// DTOs returned across the service boundary. Storage shapes never leak past
// the conversation service.

type ParticipantDTO struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

type ThreadDTO struct {
	ID            string           `json:"id"`
	Participants  []ParticipantDTO `json:"participants"`
	PropertyID    string           `json:"property_id,omitempty"`
	PropertyTitle string           `json:"property_title,omitempty"`
	LastMessage   *LastMessage     `json:"last_message"`
	UnreadCount   int64            `json:"unread_count"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MessageDTO is the normalized message shape. Read is relative to the
// requesting user.
type MessageDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	SenderName     string    `json:"sender_name"`
	SenderRole     Role      `json:"sender_role"`
	MessageText    string    `json:"message_text"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

type ThreadListDTO struct {
	Items []ThreadDTO `json:"items"`
	Page  int64       `json:"page"`
	Limit int64       `json:"limit"`
	Total int64       `json:"total"`
}
