package models

import "time"

const MaxMessageLength = 2000

const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

type Message struct {
	ID         string        `bson:"_id" json:"id"`
	ThreadID   string        `bson:"thread_id" json:"thread_id"`
	SenderID   string        `bson:"sender_id" json:"sender_id"`
	ReceiverID string        `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	Content    string        `bson:"content" json:"content"`
	Type       string        `bson:"type" json:"type"`
	ReadBy     []ReadReceipt `bson:"read_by" json:"read_by"`
	IsDeleted  bool          `bson:"is_deleted" json:"-"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
}

func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
