package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keyhaven/messaging-service/internal/models"
)

// memoryCore is the shared state behind the in-process stores, used by tests
// and the `storage: memory` dev mode. One mutex covers find-or-create so the
// creation race resolves to a single thread without a database constraint.
type memoryCore struct {
	mu       sync.Mutex
	threads  map[string]*models.Thread
	messages map[string][]*models.Message // threadID -> append-ordered log
	byKey    map[string]string            // participant_key+"\x00"+propertyID -> active threadID
}

type MemoryThreadStore struct{ c *memoryCore }

type MemoryMessageStore struct{ c *memoryCore }

// NewMemory returns a thread store and message store over the same state.
func NewMemory() (*MemoryThreadStore, *MemoryMessageStore) {
	c := &memoryCore{
		threads:  make(map[string]*models.Thread),
		messages: make(map[string][]*models.Message),
		byKey:    make(map[string]string),
	}
	return &MemoryThreadStore{c: c}, &MemoryMessageStore{c: c}
}

func matchKey(key, propertyID string) string { return key + "\x00" + propertyID }

func (c *memoryCore) findActiveLocked(userA, userB, propertyID string) (*models.Thread, error) {
	id, ok := c.byKey[matchKey(models.ParticipantKey(userA, userB), propertyID)]
	if !ok {
		return nil, ErrThreadNotFound
	}
	t := c.threads[id]
	if t == nil || t.IsDeleted || t.Status != models.ThreadActive {
		return nil, ErrThreadNotFound
	}
	return copyThread(t), nil
}

func (c *memoryCore) createLocked(participants []models.Participant, propertyID string) (*models.Thread, error) {
	t, err := newThread(participants, propertyID)
	if err != nil {
		return nil, err
	}
	c.threads[t.ID] = t
	c.byKey[matchKey(t.ParticipantKey, propertyID)] = t.ID
	return copyThread(t), nil
}

func (s *MemoryThreadStore) FindActive(_ context.Context, userA, userB, propertyID string) (*models.Thread, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.findActiveLocked(userA, userB, propertyID)
}

func (s *MemoryThreadStore) Create(_ context.Context, participants []models.Participant, propertyID string) (*models.Thread, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.createLocked(participants, propertyID)
}

func (s *MemoryThreadStore) FindOrCreate(_ context.Context, participants []models.Participant, propertyID string) (*models.Thread, bool, error) {
	if len(participants) != 2 {
		return nil, false, ErrInvalidParticipants
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if t, err := s.c.findActiveLocked(participants[0].UserID, participants[1].UserID, propertyID); err == nil {
		return t, false, nil
	}
	t, err := s.c.createLocked(participants, propertyID)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *MemoryThreadStore) Get(_ context.Context, id string) (*models.Thread, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	t := s.c.threads[id]
	if t == nil || t.IsDeleted {
		return nil, ErrThreadNotFound
	}
	return copyThread(t), nil
}

func (s *MemoryThreadStore) ListForUser(_ context.Context, userID string, page, limit int64) ([]*models.Thread, int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var all []*models.Thread
	for _, t := range s.c.threads {
		if !t.IsDeleted && t.Status == models.ThreadActive && t.IsParticipant(userID) {
			all = append(all, copyThread(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= total {
		return []*models.Thread{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryThreadStore) RecordIncomingMessage(_ context.Context, threadID, senderID, preview string, sentAt time.Time) (*models.Thread, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	t := s.c.threads[threadID]
	if t == nil || t.IsDeleted {
		return nil, ErrThreadNotFound
	}
	t.LastMessage = &models.LastMessage{Content: preview, SenderID: senderID, SentAt: sentAt}
	t.MessageCount++
	t.UpdatedAt = sentAt
	for _, p := range t.Participants {
		if p.UserID != senderID {
			t.UnreadCounts[p.UserID]++
		}
	}
	return copyThread(t), nil
}

func (s *MemoryThreadStore) MarkRead(_ context.Context, threadID, userID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	t := s.c.threads[threadID]
	if t == nil || t.IsDeleted {
		return ErrThreadNotFound
	}
	t.UnreadCounts[userID] = 0
	return nil
}

func (s *MemoryThreadStore) SoftDelete(_ context.Context, threadID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	t := s.c.threads[threadID]
	if t == nil || t.IsDeleted {
		return ErrThreadNotFound
	}
	t.IsDeleted = true
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryMessageStore) Append(_ context.Context, thread *models.Thread, senderID, receiverID, content, msgType string) (*models.Message, error) {
	m, err := newMessage(thread, senderID, receiverID, content, msgType)
	if err != nil {
		return nil, err
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.messages[thread.ID] = append(s.c.messages[thread.ID], m)
	return copyMessage(m), nil
}

func (s *MemoryMessageStore) ListByThread(_ context.Context, threadID string, includeDeleted bool) ([]*models.Message, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	out := []*models.Message{}
	for _, m := range s.c.messages[threadID] {
		if m.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *MemoryMessageStore) MarkRead(_ context.Context, messageID, userID string, at time.Time) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	m := s.c.findMessageLocked(messageID)
	if m == nil {
		return ErrMessageNotFound
	}
	if !m.ReadByUser(userID) {
		m.ReadBy = append(m.ReadBy, models.ReadReceipt{UserID: userID, ReadAt: at})
	}
	return nil
}

func (s *MemoryMessageStore) MarkThreadRead(_ context.Context, threadID, userID string, at time.Time) (int64, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var n int64
	for _, m := range s.c.messages[threadID] {
		if m.IsDeleted || m.SenderID == userID || m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, models.ReadReceipt{UserID: userID, ReadAt: at})
		n++
	}
	return n, nil
}

func (s *MemoryMessageStore) Get(_ context.Context, messageID string) (*models.Message, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	m := s.c.findMessageLocked(messageID)
	if m == nil {
		return nil, ErrMessageNotFound
	}
	return copyMessage(m), nil
}

func (s *MemoryMessageStore) SoftDelete(_ context.Context, messageID, actorID string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	m := s.c.findMessageLocked(messageID)
	if m == nil || m.SenderID != actorID {
		return ErrMessageNotFound
	}
	m.IsDeleted = true
	return nil
}

func (c *memoryCore) findMessageLocked(messageID string) *models.Message {
	for _, log := range c.messages {
		for _, m := range log {
			if m.ID == messageID {
				return m
			}
		}
	}
	return nil
}

var (
	_ ThreadStore  = (*MemoryThreadStore)(nil)
	_ MessageStore = (*MemoryMessageStore)(nil)
	_ ThreadStore  = (*MongoThreadStore)(nil)
	_ MessageStore = (*MongoMessageStore)(nil)
)

func copyThread(t *models.Thread) *models.Thread {
	cp := *t
	cp.Participants = append([]models.Participant(nil), t.Participants...)
	cp.UnreadCounts = make(map[string]int64, len(t.UnreadCounts))
	for k, v := range t.UnreadCounts {
		cp.UnreadCounts[k] = v
	}
	if t.LastMessage != nil {
		lm := *t.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.ReadBy = append([]models.ReadReceipt(nil), m.ReadBy...)
	return &cp
}
