// Package store owns all persistence for threads and messages. Thread and
// message records are mutated only through these interfaces; unread counters
// in particular are written nowhere else.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/keyhaven/messaging-service/internal/models"
)

var (
	ErrThreadNotFound      = errors.New("thread not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrInvalidParticipants = errors.New("thread requires exactly two routable participants")
	ErrValidation          = errors.New("invalid message")
	ErrNotParticipant      = errors.New("sender is not a thread participant")
)

// ThreadStore is the authority for thread identity, membership and the
// unread/last-message caches.
type ThreadStore interface {
	// FindActive matches an active, non-deleted thread for the unordered
	// user pair and property context. Context is a match key: a
	// property-scoped thread and a general thread between the same pair
	// are distinct.
	FindActive(ctx context.Context, userA, userB, propertyID string) (*models.Thread, error)

	// Create persists a new active thread. Roles are snapshotted from the
	// given participants. Fails with ErrInvalidParticipants when the pair
	// does not satisfy the routing policy.
	Create(ctx context.Context, participants []models.Participant, propertyID string) (*models.Thread, error)

	// FindOrCreate is the race-safe combination of the two calls above:
	// concurrent callers for the same pair and context all resolve to the
	// single surviving thread. The bool reports whether this call created it.
	FindOrCreate(ctx context.Context, participants []models.Participant, propertyID string) (*models.Thread, bool, error)

	Get(ctx context.Context, id string) (*models.Thread, error)

	// ListForUser returns active, non-deleted threads containing userID,
	// newest-updated first. Page is 1-based.
	ListForUser(ctx context.Context, userID string, page, limit int64) ([]*models.Thread, int64, error)

	// RecordIncomingMessage updates the last-message cache, bumps the
	// message counter and increments every participant's unread counter
	// except the sender's, atomically. Returns the updated thread.
	RecordIncomingMessage(ctx context.Context, threadID, senderID, preview string, sentAt time.Time) (*models.Thread, error)

	// MarkRead resets userID's unread counter to zero. Other participants'
	// counters are untouched.
	MarkRead(ctx context.Context, threadID, userID string) error

	SoftDelete(ctx context.Context, threadID string) error
}

// MessageStore is the append-only message log with read receipts. It is
// authoritative for content and ordering; thread caches are derived.
type MessageStore interface {
	// Append validates content bounds and sender membership, then persists
	// the message at the tail of the thread's log.
	Append(ctx context.Context, thread *models.Thread, senderID, receiverID, content, msgType string) (*models.Message, error)

	// ListByThread returns messages in ascending creation order.
	ListByThread(ctx context.Context, threadID string, includeDeleted bool) ([]*models.Message, error)

	// MarkRead adds a read receipt; a second receipt for the same user is a
	// no-op.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error

	// MarkThreadRead adds receipts for every unread message in the thread
	// and reports how many were marked.
	MarkThreadRead(ctx context.Context, threadID, userID string, at time.Time) (int64, error)

	Get(ctx context.Context, messageID string) (*models.Message, error)

	SoftDelete(ctx context.Context, messageID, actorID string) error
}
