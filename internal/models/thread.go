package models

import (
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
	RoleAdmin  Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(s)) {
	case RoleBuyer:
		return RoleBuyer, true
	case RoleSeller:
		return RoleSeller, true
	case RoleAgent:
		return RoleAgent, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
	ThreadBlocked  ThreadStatus = "blocked"
)

// Participant is a user bound to a thread. Role is snapshotted at thread
// creation time and never re-derived from the identity service.
type Participant struct {
	UserID string `bson:"user_id" json:"user_id"`
	Role   Role   `bson:"role" json:"role"`
}

// LastMessage is a denormalized preview for thread list views. The messages
// collection stays authoritative for content and ordering.
type LastMessage struct {
	Content  string    `bson:"content" json:"content"`
	SenderID string    `bson:"sender_id" json:"sender_id"`
	SentAt   time.Time `bson:"sent_at" json:"sent_at"`
}

type Thread struct {
	ID             string           `bson:"_id" json:"id"`
	Participants   []Participant    `bson:"participants" json:"participants"`
	ParticipantKey string           `bson:"participant_key" json:"-"`
	PropertyID     string           `bson:"property_id,omitempty" json:"property_id,omitempty"`
	Tag            string           `bson:"tag" json:"tag"`
	LastMessage    *LastMessage     `bson:"last_message,omitempty" json:"last_message,omitempty"`
	MessageCount   int64            `bson:"message_count" json:"message_count"`
	UnreadCounts   map[string]int64 `bson:"unread_counts" json:"unread_counts"`
	Status         ThreadStatus     `bson:"status" json:"status"`
	IsDeleted      bool             `bson:"is_deleted" json:"-"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at" json:"updated_at"`
}

// ParticipantKey builds the order-independent match key for a user pair.
func ParticipantKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

func (t *Thread) IsParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID.
func (t *Thread) OtherParticipant(userID string) (Participant, bool) {
	for _, p := range t.Participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (t *Thread) Roles() []Role {
	out := make([]Role, 0, len(t.Participants))
	for _, p := range t.Participants {
		out = append(out, p.Role)
	}
	return out
}

func (t *Thread) UnreadFor(userID string) int64 {
	if t.UnreadCounts == nil {
		return 0
	}
	return t.UnreadCounts[userID]
}
