package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keyhaven/messaging-service/internal/clients"
	"github.com/keyhaven/messaging-service/internal/models"
	"github.com/keyhaven/messaging-service/internal/routing"
	"github.com/keyhaven/messaging-service/internal/store"
)

type fakeIdentity struct {
	mu    sync.Mutex
	users map[string]*clients.Profile
}

func (f *fakeIdentity) Profile(_ context.Context, userID string) (*clients.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.users[userID]; ok {
		return p, nil
	}
	return nil, clients.ErrUserNotFound
}

type fakeProperty struct {
	titles map[string]string
}

func (f *fakeProperty) Exists(_ context.Context, id string) (bool, error) {
	_, ok := f.titles[id]
	return ok, nil
}

func (f *fakeProperty) Title(_ context.Context, id string) (string, error) {
	if t, ok := f.titles[id]; ok {
		return t, nil
	}
	return "", clients.ErrPropertyNotFound
}

type emitted struct {
	UserID  string
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	emits  []emitted
	failed bool // simulates a dead notifier; Emit still must not error
}

func (f *fakeNotifier) Emit(userID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return
	}
	f.emits = append(f.emits, emitted{UserID: userID, Event: event, Payload: payload})
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []*models.MessageDTO
}

func (f *fakePublisher) MessageSent(_ context.Context, m *models.MessageDTO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
}

func (f *fakePublisher) Close() error { return nil }

type fixture struct {
	svc      *ConversationService
	threads  *store.MemoryThreadStore
	notifier *fakeNotifier
	events   *fakePublisher
}

func newFixture() *fixture {
	threads, messages := store.NewMemory()
	idents := &fakeIdentity{users: map[string]*clients.Profile{
		"seller-1": {UserID: "seller-1", Name: "Sam Seller", Role: models.RoleSeller},
		"buyer-1":  {UserID: "buyer-1", Name: "Bea Buyer", Role: models.RoleBuyer},
		"agent-1":  {UserID: "agent-1", Name: "Ava Agent", Role: models.RoleAgent},
		"admin-1":  {UserID: "admin-1", Name: "Root", Role: models.RoleAdmin},
	}}
	props := &fakeProperty{titles: map[string]string{"prop-1": "12 Harbor Lane"}}
	n := &fakeNotifier{}
	p := &fakePublisher{}
	svc := NewConversationService(threads, messages, idents, props, n, p, zap.NewNop().Sugar())
	return &fixture{svc: svc, threads: threads, notifier: n, events: p}
}

func TestSendMessageNewConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{
		RecipientID: "agent-1",
		PropertyID:  "prop-1",
		Text:        "Hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, dto.ID)
	assert.NotEmpty(t, dto.ConversationID)
	assert.Equal(t, "Hello", dto.MessageText)
	assert.Equal(t, "seller-1", dto.SenderID)
	assert.Equal(t, "agent-1", dto.ReceiverID)
	assert.Equal(t, "Sam Seller", dto.SenderName)
	assert.Equal(t, models.RoleSeller, dto.SenderRole)
	assert.False(t, dto.Read)

	th, err := f.threads.Get(ctx, dto.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), th.UnreadFor("agent-1"))
	assert.Equal(t, int64(0), th.UnreadFor("seller-1"))
	assert.Equal(t, int64(1), th.MessageCount)
	require.NotNil(t, th.LastMessage)
	assert.Equal(t, "Hello", th.LastMessage.Content)

	// both participants get the realtime event, plus the durable event
	require.Len(t, f.notifier.emits, 2)
	seen := map[string]bool{}
	for _, e := range f.notifier.emits {
		assert.Equal(t, "message:new", e.Event)
		seen[e.UserID] = true
	}
	assert.True(t, seen["seller-1"] && seen["agent-1"])
	require.Len(t, f.events.sent, 1)
	assert.Equal(t, dto.ID, f.events.sent[0].ID)
}

func TestSendMessageRoutingBlocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "buyer-1", SendMessageRequest{RecipientID: "seller-1", Text: "Hi"})
	var re *RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routing.ReasonRoutingBlocked, re.Reason)

	// nothing persisted, nothing emitted
	list, err := f.svc.ListThreads(ctx, "buyer-1", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Empty(t, f.notifier.emits)
	assert.Empty(t, f.events.sent)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{Text: "no destination"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "seller-1", Text: "self"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, clients.ErrUserNotFound)

	_, err = f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", PropertyID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, clients.ErrPropertyNotFound)
}

func TestSendMessageExistingThread(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "one"})
	require.NoError(t, err)

	second, err := f.svc.SendMessage(ctx, "agent-1", SendMessageRequest{ThreadID: first.ConversationID, Text: "two"})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, "seller-1", second.ReceiverID, "receiver derived as the other participant")

	_, err = f.svc.SendMessage(ctx, "buyer-1", SendMessageRequest{ThreadID: first.ConversationID, Text: "intrude"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{ThreadID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, store.ErrThreadNotFound)
}

// staleThreadStore serves one thread whose role snapshot no longer satisfies
// policy, simulating drift between snapshot and current roles.
type staleThreadStore struct {
	store.ThreadStore
	stale *models.Thread
}

func (s *staleThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	if id == s.stale.ID {
		return s.stale, nil
	}
	return s.ThreadStore.Get(ctx, id)
}

func TestSendMessageStaleRolesRevalidated(t *testing.T) {
	threads, messages := store.NewMemory()
	stale := &models.Thread{
		ID: "stale-thread",
		Participants: []models.Participant{
			{UserID: "seller-1", Role: models.RoleSeller},
			{UserID: "buyer-1", Role: models.RoleBuyer},
		},
		Status:       models.ThreadActive,
		UnreadCounts: map[string]int64{},
	}
	idents := &fakeIdentity{users: map[string]*clients.Profile{
		"seller-1": {UserID: "seller-1", Name: "Sam", Role: models.RoleSeller},
	}}
	svc := NewConversationService(
		&staleThreadStore{ThreadStore: threads, stale: stale},
		messages, idents, &fakeProperty{}, &fakeNotifier{}, &fakePublisher{}, zap.NewNop().Sugar(),
	)

	_, err := svc.SendMessage(context.Background(), "seller-1", SendMessageRequest{
		ThreadID: "stale-thread",
		Text:     "should be refused",
	})
	var re *RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, routing.ReasonRoutingBlocked, re.Reason)
}

func TestEnsureThreadIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	one, err := f.svc.EnsureThread(ctx, "seller-1", "agent-1", "prop-1")
	require.NoError(t, err)
	two, err := f.svc.EnsureThread(ctx, "seller-1", "agent-1", "prop-1")
	require.NoError(t, err)
	assert.Equal(t, one.ID, two.ID)
	assert.Equal(t, "12 Harbor Lane", one.PropertyTitle)

	// reversed order resolves to the same thread
	three, err := f.svc.EnsureThread(ctx, "agent-1", "seller-1", "prop-1")
	require.NoError(t, err)
	assert.Equal(t, one.ID, three.ID)

	// a general thread between the same pair is distinct
	general, err := f.svc.EnsureThread(ctx, "seller-1", "agent-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, one.ID, general.ID)

	_, err = f.svc.EnsureThread(ctx, "buyer-1", "seller-1", "")
	var re *RoutingError
	assert.ErrorAs(t, err, &re)

	_, err = f.svc.EnsureThread(ctx, "seller-1", "seller-1", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEnsureThreadConcurrent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			dto, err := f.svc.EnsureThread(ctx, "seller-1", "agent-1", "prop-1")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = dto.ID
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}

	list, err := f.svc.ListThreads(ctx, "seller-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total, "exactly one active thread survives the race")
}

func TestConversationOrderAndReadFlags(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var threadID string
	for i := 0; i < 5; i++ {
		dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{
			RecipientID: "agent-1",
			Text:        fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
		threadID = dto.ConversationID
	}

	conv, err := f.svc.GetConversation(ctx, threadID, "agent-1")
	require.NoError(t, err)
	require.Len(t, conv, 5)
	for i, m := range conv {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.MessageText, "append order is replay order")
		assert.False(t, m.Read)
	}

	th, err := f.threads.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), th.MessageCount)
	assert.Equal(t, int64(5), th.UnreadFor("agent-1"))

	require.NoError(t, f.svc.MarkThreadRead(ctx, threadID, "agent-1"))

	th, err = f.threads.Get(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), th.UnreadFor("agent-1"))
	assert.Equal(t, int64(0), th.UnreadFor("seller-1"), "sender unread untouched")

	conv, err = f.svc.GetConversation(ctx, threadID, "agent-1")
	require.NoError(t, err)
	for _, m := range conv {
		assert.True(t, m.Read)
	}

	// the sender now sees their messages as read by the other side
	conv, err = f.svc.GetConversation(ctx, threadID, "seller-1")
	require.NoError(t, err)
	for _, m := range conv {
		assert.True(t, m.Read)
	}
}

func TestGetConversationForbidden(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "private"})
	require.NoError(t, err)

	_, err = f.svc.GetConversation(ctx, dto.ConversationID, "buyer-1")
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.MarkThreadRead(ctx, dto.ConversationID, "buyer-1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GetThread(ctx, dto.ConversationID, "buyer-1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GetConversation(ctx, "no-such-thread", "buyer-1")
	assert.ErrorIs(t, err, store.ErrThreadNotFound)
}

func TestMarkThreadReadEmitsToSender(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "hello"})
	require.NoError(t, err)
	f.notifier.emits = nil

	require.NoError(t, f.svc.MarkThreadRead(ctx, dto.ConversationID, "agent-1"))
	require.Len(t, f.notifier.emits, 1)
	assert.Equal(t, "seller-1", f.notifier.emits[0].UserID)
	assert.Equal(t, "thread:read", f.notifier.emits[0].Event)
}

func TestAdminMayMessageAnyRole(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, other := range []string{"buyer-1", "seller-1", "agent-1"} {
		_, err := f.svc.EnsureThread(ctx, "admin-1", other, "")
		require.NoError(t, err, "admin to %s", other)
	}
}

func TestSendSucceedsWhenNotifierDead(t *testing.T) {
	f := newFixture()
	f.notifier.failed = true
	ctx := context.Background()

	dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "still works"})
	require.NoError(t, err)

	conv, err := f.svc.GetConversation(ctx, dto.ConversationID, "agent-1")
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "still works", conv[0].MessageText)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	dto, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "oops"})
	require.NoError(t, err)

	err = f.svc.DeleteMessage(ctx, dto.ID, "agent-1")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.DeleteMessage(ctx, dto.ID, "seller-1"))

	conv, err := f.svc.GetConversation(ctx, dto.ConversationID, "seller-1")
	require.NoError(t, err)
	assert.Empty(t, conv)

	// the counter reflects appends, not surviving messages
	th, err := f.threads.Get(ctx, dto.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), th.MessageCount)
}

func TestListThreadsNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", Text: "first thread"})
	require.NoError(t, err)
	b, err := f.svc.SendMessage(ctx, "seller-1", SendMessageRequest{RecipientID: "agent-1", PropertyID: "prop-1", Text: "second thread"})
	require.NoError(t, err)

	list, err := f.svc.ListThreads(ctx, "seller-1", 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, b.ConversationID, list.Items[0].ID)
	assert.Equal(t, a.ConversationID, list.Items[1].ID)
	assert.Equal(t, "12 Harbor Lane", list.Items[0].PropertyTitle)

	// replying to the older thread bubbles it to the top
	_, err = f.svc.SendMessage(ctx, "agent-1", SendMessageRequest{ThreadID: a.ConversationID, Text: "bump"})
	require.NoError(t, err)
	list, err = f.svc.ListThreads(ctx, "seller-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, a.ConversationID, list.Items[0].ID)
	assert.Equal(t, int64(1), list.Items[0].UnreadCount)
}
