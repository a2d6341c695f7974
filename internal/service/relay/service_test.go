package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulse-backend/internal/domain"
	"pulse-backend/internal/ratelimit"
	"pulse-backend/internal/service/moderation"
	apperrors "pulse-backend/pkg/errors"
)

type memoryStore struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	inserts  int
	failNext error

	// beforeWrite runs once ahead of the next write, standing in for another
	// device acting between load and write
	beforeWrite func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: make(map[string]*domain.Message)}
}

func (s *memoryStore) take() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memoryStore) Insert(ctx context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.take(); err != nil {
		return err
	}
	cp := *message
	cp.Reactions = map[string]string{}
	s.messages[message.MessageID] = &cp
	s.inserts++
	return nil
}

func (s *memoryStore) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	cp.Reactions = make(map[string]string, len(m.Reactions))
	for k, v := range m.Reactions {
		cp.Reactions[k] = v
	}
	return &cp, nil
}

// existing mirrors IF EXISTS: it fails once the row is gone and returns with
// s.mu held otherwise.
func (s *memoryStore) existing(messageID string) (*domain.Message, error) {
	if hook := s.beforeWrite; hook != nil {
		s.beforeWrite = nil
		hook()
	}
	s.mu.Lock()
	m, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

func (s *memoryStore) UpdateText(ctx context.Context, messageID, text string, editedAt time.Time) error {
	m, err := s.existing(messageID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	m.Text = text
	m.EditedAt = &editedAt
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	return nil
}

func (s *memoryStore) SetReaction(ctx context.Context, messageID, username, emoji string) error {
	m, err := s.existing(messageID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	m.Reactions[username] = emoji
	return nil
}

func (s *memoryStore) RemoveReaction(ctx context.Context, messageID, username string) error {
	m, err := s.existing(messageID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	delete(m.Reactions, username)
	return nil
}

func (s *memoryStore) MarkSeen(ctx context.Context, messageID string, seenAt time.Time) error {
	m, err := s.existing(messageID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	m.Seen = true
	m.SeenAt = &seenAt
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

type MockPolicy struct {
	mock.Mock
}

func (m *MockPolicy) AllowMessage(ctx context.Context, sender, receiver string) (*domain.User, error) {
	args := m.Called(ctx, sender, receiver)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyMessage(ctx context.Context, receiverID uuid.UUID, message *domain.Message) error {
	args := m.Called(ctx, receiverID, message)
	return args.Error(0)
}

type roomEvent struct {
	Room    string
	Event   string
	Payload interface{}
	Except  string
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []roomEvent
}

func (e *fakeEmitter) ToRoom(room, event string, payload interface{}, exceptConnID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, roomEvent{Room: room, Event: event, Payload: payload, Except: exceptConnID})
}

func (e *fakeEmitter) named(event string) []roomEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []roomEvent
	for _, ev := range e.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	svc      *Service
	store    *memoryStore
	policy   *MockPolicy
	notifier *MockNotifier
	emitter  *fakeEmitter
	clock    *clock.Mock
}

func newHarness(t *testing.T, messageLimit int) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	limiter := ratelimit.New(ratelimit.Config{
		Rules:      map[string]ratelimit.Rule{ratelimit.ActionMessage: {Limit: messageLimit, Window: time.Minute}},
		Default:    ratelimit.Rule{Limit: 100, Window: time.Minute},
		MaxBuckets: 100,
	}, nil, clk)

	h := &harness{
		store:    newMemoryStore(),
		policy:   new(MockPolicy),
		notifier: new(MockNotifier),
		emitter:  &fakeEmitter{},
		clock:    clk,
	}
	h.svc = NewService(h.store, limiter, h.policy, moderation.NewFilter([]string{"scam"}),
		h.notifier, h.emitter, clk, Config{EditWindow: 15 * time.Minute, DeleteWindow: 15 * time.Minute})
	return h
}

func (h *harness) allowAll() uuid.UUID {
	id := uuid.New()
	h.policy.On("AllowMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.User{UserID: id}, nil)
	h.notifier.On("NotifyMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return id
}

func (h *harness) send(t *testing.T, sender, receiver, text string) *domain.MessageResponse {
	t.Helper()
	resp, err := h.svc.Send(context.Background(), "conn-"+sender, sender, SendRequest{
		ReceiverID: receiver,
		Text:       text,
		Room:       RoomID(sender, receiver),
	})
	require.NoError(t, err)
	return resp
}

func TestRoomID(t *testing.T) {
	assert.Equal(t, "alice:bob", RoomID("alice", "bob"))
	assert.Equal(t, "alice:bob", RoomID("bob", "alice"))

	a, b, ok := RoomMembers("alice:bob")
	require.True(t, ok)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	for _, room := range []string{"", "alice", "bob:alice", "a:b:c", ":bob"} {
		_, _, ok := RoomMembers(room)
		assert.False(t, ok, room)
	}

	assert.True(t, IsMember("alice:bob", "bob"))
	assert.False(t, IsMember("alice:bob", "carol"))
}

func TestSend_RejectsSeparatorInUsername(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()

	assert.True(t, CanJoinRooms("alice"))
	assert.False(t, CanJoinRooms("a:b"))
	assert.False(t, CanJoinRooms(""))

	for _, pair := range [][2]string{{"a", "b:c"}, {"a:b", "c"}} {
		_, err := h.svc.Send(context.Background(), "conn-1", pair[0], SendRequest{
			ReceiverID: pair[1],
			Text:       "hi",
			Room:       RoomID(pair[0], pair[1]),
		})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), "got %v", err)
	}
	assert.Equal(t, 0, h.store.count())
}

func TestSend_RelaysAndNotifies(t *testing.T) {
	h := newHarness(t, 30)
	receiverID := h.allowAll()

	resp := h.send(t, "alice", "bob", "hello")

	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, "alice:bob", resp.Room)
	assert.Equal(t, domain.MessageKindText, resp.Kind)
	assert.NotNil(t, resp.Reactions)

	relayed := h.emitter.named(EventReceiveMessage)
	require.Len(t, relayed, 1)
	assert.Equal(t, "alice:bob", relayed[0].Room)
	assert.Equal(t, "conn-alice", relayed[0].Except)

	stored, err := h.store.FindByID(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Text)

	h.notifier.AssertCalled(t, "NotifyMessage", mock.Anything, receiverID, mock.Anything)
}

func TestSend_Validation(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"empty text", SendRequest{ReceiverID: "bob", Text: "   ", Room: "alice:bob"}},
		{"no receiver", SendRequest{Text: "hi", Room: "alice:bob"}},
		{"self", SendRequest{ReceiverID: "alice", Text: "hi", Room: "alice:alice"}},
		{"wrong room", SendRequest{ReceiverID: "bob", Text: "hi", Room: "alice:carol"}},
		{"unknown kind", SendRequest{ReceiverID: "bob", Text: "hi", Room: "alice:bob", Kind: "sticker"}},
		{"media without url", SendRequest{ReceiverID: "bob", Room: "alice:bob", Kind: domain.MessageKindImage}},
		{"too long", SendRequest{ReceiverID: "bob", Text: string(make([]rune, 10001)), Room: "alice:bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Send(ctx, "c1", "alice", tc.req)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, h.store.count())
}

func TestSend_MediaWithoutText(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()

	resp, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{
		ReceiverID: "bob",
		Room:       "alice:bob",
		Kind:       domain.MessageKindImage,
		MediaURL:   "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageKindImage, resp.Kind)
}

func TestSend_RateLimitBoundary(t *testing.T) {
	h := newHarness(t, 3)
	h.allowAll()

	for i := 0; i < 3; i++ {
		h.send(t, "alice", "bob", "hi")
	}

	_, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{
		ReceiverID: "bob", Text: "one too many", Room: "alice:bob",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRateLimitExceeded))
	assert.Equal(t, 3, h.store.count())
	assert.Len(t, h.emitter.named(EventReceiveMessage), 3)

	h.clock.Add(time.Minute)
	h.send(t, "alice", "bob", "after the window")
}

func TestSend_RateLimitCheckedBeforeValidation(t *testing.T) {
	h := newHarness(t, 1)
	h.allowAll()
	h.send(t, "alice", "bob", "hi")

	_, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRateLimitExceeded))
}

func TestSend_PolicyDenied(t *testing.T) {
	h := newHarness(t, 30)
	h.policy.On("AllowMessage", mock.Anything, "alice", "bob").Return(nil, apperrors.BlockedError())

	_, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{
		ReceiverID: "bob", Text: "hi", Room: "alice:bob",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBlocked))
	assert.Equal(t, 0, h.store.count())
	assert.Empty(t, h.emitter.named(EventReceiveMessage))
	h.notifier.AssertNotCalled(t, "NotifyMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_Moderated(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()

	_, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{
		ReceiverID: "bob", Text: "this is a SC4M", Room: "alice:bob",
	})
	require.True(t, apperrors.HasCode(err, apperrors.ErrCodeModeration))
	issue, ok := apperrors.GetAppError(err).Details.(*moderation.Issue)
	require.True(t, ok)
	assert.Equal(t, moderation.ReasonBlockedTerm, issue.Reason)
	assert.Equal(t, 0, h.store.count())
}

func TestSend_StoreFailure(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	h.store.failNext = errors.New("cassandra down")

	_, err := h.svc.Send(context.Background(), "c1", "alice", SendRequest{
		ReceiverID: "bob", Text: "hi", Room: "alice:bob",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))
	assert.Empty(t, h.emitter.named(EventReceiveMessage))
}

func TestSend_NotificationFailureIgnored(t *testing.T) {
	h := newHarness(t, 30)
	h.policy.On("AllowMessage", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.User{UserID: uuid.New()}, nil)
	h.notifier.On("NotifyMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	resp := h.send(t, "alice", "bob", "hi")
	assert.NotEmpty(t, resp.MessageID)
}

func TestEdit_Window(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	msg := h.send(t, "alice", "bob", "first")

	h.clock.Add(14 * time.Minute)
	payload, err := h.svc.Edit(ctx, "alice", EditRequest{MessageID: msg.MessageID, Text: "second", Room: "alice:bob"})
	require.NoError(t, err)
	assert.Equal(t, "second", payload.Text)

	edited := h.emitter.named(EventMessageEdited)
	require.Len(t, edited, 1)
	assert.Empty(t, edited[0].Except)

	h.clock.Add(2 * time.Minute)
	_, err = h.svc.Edit(ctx, "alice", EditRequest{MessageID: msg.MessageID, Text: "third", Room: "alice:bob"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEditWindow))

	stored, _ := h.store.FindByID(ctx, msg.MessageID)
	assert.Equal(t, "second", stored.Text)
	require.NotNil(t, stored.EditedAt)
}

func TestEdit_Rules(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	msg := h.send(t, "alice", "bob", "first")

	_, err := h.svc.Edit(ctx, "bob", EditRequest{MessageID: msg.MessageID, Text: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = h.svc.Edit(ctx, "alice", EditRequest{MessageID: "missing", Text: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMessageNotFound))

	_, err = h.svc.Edit(ctx, "alice", EditRequest{MessageID: msg.MessageID, Text: "x", Room: "alice:carol"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = h.svc.Edit(ctx, "alice", EditRequest{MessageID: msg.MessageID, Text: "total scam"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeModeration))

	media, err := h.svc.Send(ctx, "c1", "alice", SendRequest{
		ReceiverID: "bob", Room: "alice:bob", Kind: domain.MessageKindFile, MediaURL: "https://cdn.example.com/f",
	})
	require.NoError(t, err)
	_, err = h.svc.Edit(ctx, "alice", EditRequest{MessageID: media.MessageID, Text: "caption"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeImmutable))
}

func TestDelete_Window(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	early := h.send(t, "alice", "bob", "one")
	late := h.send(t, "alice", "bob", "two")

	_, err := h.svc.Delete(ctx, "bob", DeleteRequest{MessageID: early.MessageID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	h.clock.Add(10 * time.Minute)
	_, err = h.svc.Delete(ctx, "alice", DeleteRequest{MessageID: early.MessageID, Room: "alice:bob"})
	require.NoError(t, err)
	require.Len(t, h.emitter.named(EventMessageDeleted), 1)

	_, err = h.store.FindByID(ctx, early.MessageID)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	h.clock.Add(6 * time.Minute)
	_, err = h.svc.Delete(ctx, "alice", DeleteRequest{MessageID: late.MessageID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEditWindow))
}

func TestReact_Toggle(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	msg := h.send(t, "alice", "bob", "hi")

	payload, err := h.svc.React(ctx, "bob", ReactRequest{MessageID: msg.MessageID, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Reaction{{Username: "bob", Emoji: "👍"}}, payload.Reactions)

	payload, err = h.svc.React(ctx, "alice", ReactRequest{MessageID: msg.MessageID, Emoji: "❤️"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Reaction{
		{Username: "alice", Emoji: "❤️"},
		{Username: "bob", Emoji: "👍"},
	}, payload.Reactions)

	// Same emoji again removes it
	payload, err = h.svc.React(ctx, "bob", ReactRequest{MessageID: msg.MessageID, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Reaction{{Username: "alice", Emoji: "❤️"}}, payload.Reactions)

	// A different emoji replaces
	payload, err = h.svc.React(ctx, "alice", ReactRequest{MessageID: msg.MessageID, Emoji: "😂"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Reaction{{Username: "alice", Emoji: "😂"}}, payload.Reactions)

	assert.Len(t, h.emitter.named(EventMessageReactionUpdated), 4)
}

func TestWrites_MessageDeletedAfterLoad(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(id string) error
	}{
		{"react", func(id string) error {
			_, err := h.svc.React(ctx, "bob", ReactRequest{MessageID: id, Emoji: "👍"})
			return err
		}},
		{"edit", func(id string) error {
			_, err := h.svc.Edit(ctx, "alice", EditRequest{MessageID: id, Text: "fixed"})
			return err
		}},
		{"seen", func(id string) error {
			return h.svc.Seen(ctx, "bob", SeenRequest{MessageID: id})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := h.send(t, "alice", "bob", "hi")
			before := len(h.emitter.named(EventMessageReactionUpdated)) +
				len(h.emitter.named(EventMessageEdited)) +
				len(h.emitter.named(EventMessageSeenUpdate))
			h.store.beforeWrite = func() {
				_ = h.store.Delete(ctx, msg.MessageID)
			}

			err := tt.run(msg.MessageID)

			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMessageNotFound), "got %v", err)
			_, findErr := h.store.FindByID(ctx, msg.MessageID)
			assert.ErrorIs(t, findErr, domain.ErrMessageNotFound)
			after := len(h.emitter.named(EventMessageReactionUpdated)) +
				len(h.emitter.named(EventMessageEdited)) +
				len(h.emitter.named(EventMessageSeenUpdate))
			assert.Equal(t, before, after)
		})
	}
}

func TestReact_Rules(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	msg := h.send(t, "alice", "bob", "hi")

	_, err := h.svc.React(ctx, "carol", ReactRequest{MessageID: msg.MessageID, Emoji: "👍"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = h.svc.React(ctx, "bob", ReactRequest{MessageID: msg.MessageID, Emoji: " "})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	long := "👍👍👍👍👍👍👍👍👍"
	_, err = h.svc.React(ctx, "bob", ReactRequest{MessageID: msg.MessageID, Emoji: long})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestSeen(t *testing.T) {
	h := newHarness(t, 30)
	h.allowAll()
	ctx := context.Background()

	msg := h.send(t, "alice", "bob", "hi")

	err := h.svc.Seen(ctx, "alice", SeenRequest{MessageID: msg.MessageID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	h.clock.Add(time.Minute)
	require.NoError(t, h.svc.Seen(ctx, "bob", SeenRequest{MessageID: msg.MessageID, Room: "alice:bob"}))
	updates := h.emitter.named(EventMessageSeenUpdate)
	require.Len(t, updates, 1)
	payload := updates[0].Payload.(SeenUpdatePayload)
	assert.Equal(t, "bob", payload.SeenBy)
	assert.Equal(t, h.clock.Now().UTC(), payload.SeenAt)

	require.NoError(t, h.svc.Seen(ctx, "bob", SeenRequest{MessageID: msg.MessageID}))
	assert.Len(t, h.emitter.named(EventMessageSeenUpdate), 1)
}

func TestTyping(t *testing.T) {
	h := newHarness(t, 30)
	ctx := context.Background()

	require.NoError(t, h.svc.Typing(ctx, "c1", "alice", TypingRequest{Room: "alice:bob", IsTyping: true}))
	typing := h.emitter.named(EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "c1", typing[0].Except)
	assert.Equal(t, TypingPayload{From: "alice", Room: "alice:bob", IsTyping: true}, typing[0].Payload)

	err := h.svc.Typing(ctx, "c2", "carol", TypingRequest{Room: "alice:bob"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}
