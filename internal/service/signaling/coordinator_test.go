package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pulse-backend/internal/domain"
	apperrors "pulse-backend/pkg/errors"
)

type harness struct {
	state       *State
	presence    *fakePresence
	policy      *MockCallPolicy
	recorder    *fakeRecorder
	emitter     *fakeEmitter
	clock       *clock.Mock
	coordinator *Coordinator
}

func newHarness(online ...string) *harness {
	h := &harness{
		state:    NewState(),
		presence: newFakePresence(online...),
		policy:   new(MockCallPolicy),
		recorder: &fakeRecorder{},
		emitter:  &fakeEmitter{},
		clock:    clock.NewMock(),
	}
	h.clock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	h.coordinator = NewCoordinator(h.state, h.presence, h.policy, h.recorder, h.emitter, h.clock)
	return h
}

func (h *harness) allowAll() {
	h.policy.On("AllowCall", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
}

func (h *harness) connect(t *testing.T, caller, callee string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.coordinator.Offer(ctx, caller+"-conn", caller, OfferRequest{To: callee, CallType: "voice"}))
	require.NoError(t, h.coordinator.Answer(ctx, callee, AnswerRequest{To: caller}))
}

func TestOffer_RelaysToCallee(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	err := h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob", CallType: "voice", Offer: offer})

	require.NoError(t, err)
	events := h.emitter.userEvents("bob", EventCallOffer)
	require.Len(t, events, 1)
	assert.Equal(t, OfferPayload{From: "alice", CallType: "voice", Offer: offer}, events[0].Payload)
	assert.Equal(t, PhasePendingCaller, h.state.Phase("alice"))
	assert.Equal(t, PhasePendingCallee, h.state.Phase("bob"))

	pending, ok := h.state.PendingCall("bob")
	require.True(t, ok)
	assert.Equal(t, PendingCall{CallerUsername: "alice", CalleeUsername: "bob", CallType: "voice"}, pending)
}

func TestOffer_DefaultsToVoice(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()

	require.NoError(t, h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"}))

	session, ok := h.state.Session("alice")
	require.True(t, ok)
	assert.Equal(t, "voice", session.CallType)
}

func TestOffer_Validation(t *testing.T) {
	h := newHarness("alice", "bob")
	ctx := context.Background()

	tests := []OfferRequest{
		{To: ""},
		{To: "alice"},
		{To: "bob", CallType: "hologram"},
	}
	for _, req := range tests {
		err := h.coordinator.Offer(ctx, "alice-conn", "alice", req)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	}
	assert.Equal(t, 0, h.state.Len())
	h.policy.AssertNotCalled(t, "AllowCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestOffer_BusyOnThirdParty(t *testing.T) {
	h := newHarness("alice", "bob", "carol")
	h.allowAll()
	h.connect(t, "alice", "bob")

	err := h.coordinator.Offer(context.Background(), "carol-conn", "carol", OfferRequest{To: "bob", CallType: "video"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserBusy))
	events := h.emitter.connEvents("carol-conn")
	require.Len(t, events, 1)
	assert.Equal(t, EventBusy, events[0].Event)
	assert.Equal(t, BusyPayload{To: "bob"}, events[0].Payload)

	assert.Equal(t, PhaseIdle, h.state.Phase("carol"))
	active, ok := h.state.ActiveCall("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", active.PeerUsername)
	assert.Len(t, h.emitter.userEvents("bob", EventCallOffer), 1)
}

func TestOffer_BusyWhileRinging(t *testing.T) {
	h := newHarness("alice", "bob", "carol")
	h.allowAll()
	ctx := context.Background()
	require.NoError(t, h.coordinator.Offer(ctx, "alice-conn", "alice", OfferRequest{To: "bob"}))

	err := h.coordinator.Offer(ctx, "carol-conn", "carol", OfferRequest{To: "alice"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserBusy))
	pending, ok := h.state.PendingCall("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", pending.CalleeUsername)
}

func TestOffer_CallerBusy(t *testing.T) {
	h := newHarness("alice", "bob", "carol")
	h.allowAll()
	h.connect(t, "alice", "bob")

	err := h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "carol"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserBusy))
	assert.Equal(t, PhaseIdle, h.state.Phase("carol"))
}

func TestOffer_UnavailableWhenOffline(t *testing.T) {
	h := newHarness("alice")

	err := h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserUnavailable))
	events := h.emitter.connEvents("alice-conn")
	require.Len(t, events, 1)
	assert.Equal(t, EventUserUnavailable, events[0].Event)
	assert.Equal(t, UnavailablePayload{To: "bob", Reason: ReasonOffline}, events[0].Payload)
	assert.Equal(t, 0, h.state.Len())
}

func TestOffer_UnavailableWhenNotAllowed(t *testing.T) {
	h := newHarness("alice", "bob")
	h.policy.On("AllowCall", mock.Anything, "alice", "bob").Return(false, nil)

	err := h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"})

	assert.True(t, IsHandled(err))
	events := h.emitter.connEvents("alice-conn")
	require.Len(t, events, 1)
	assert.Equal(t, UnavailablePayload{To: "bob", Reason: ReasonNotAllowed}, events[0].Payload)
	assert.Empty(t, h.emitter.userEvents("bob", EventCallOffer))
}

func TestOffer_PolicyFailureIsNotAllowed(t *testing.T) {
	h := newHarness("alice", "bob")
	h.policy.On("AllowCall", mock.Anything, "alice", "bob").Return(false, errors.New("db down"))

	err := h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserUnavailable))
	assert.Equal(t, 0, h.state.Len())
}

func TestOffer_CalleeBecameBusyDuringPolicyLookup(t *testing.T) {
	h := newHarness("alice", "bob", "carol")
	ctx := context.Background()

	// carol's offer lands while alice's policy lookup is in flight
	h.policy.On("AllowCall", mock.Anything, "alice", "bob").Run(func(mock.Arguments) {
		require.NoError(t, h.state.BeginPending("carol", "bob", "voice", h.clock.Now()))
	}).Return(true, nil)

	err := h.coordinator.Offer(ctx, "alice-conn", "alice", OfferRequest{To: "bob"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserBusy))
	pending, ok := h.state.PendingCall("bob")
	require.True(t, ok)
	assert.Equal(t, "carol", pending.CallerUsername)
	assert.Equal(t, PhaseIdle, h.state.Phase("alice"))
}

func TestAnswer_ActiveCallIsSymmetric(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()
	answer := json.RawMessage(`{"type":"answer"}`)
	ctx := context.Background()

	require.NoError(t, h.coordinator.Offer(ctx, "alice-conn", "alice", OfferRequest{To: "bob"}))
	require.NoError(t, h.coordinator.Answer(ctx, "bob", AnswerRequest{To: "alice", Answer: answer}))

	events := h.emitter.userEvents("alice", EventCallAnswer)
	require.Len(t, events, 1)
	assert.Equal(t, AnswerPayload{From: "bob", Answer: answer}, events[0].Payload)

	aliceView, ok := h.state.ActiveCall("alice")
	require.True(t, ok)
	bobView, ok := h.state.ActiveCall("bob")
	require.True(t, ok)

	assert.Equal(t, "bob", aliceView.PeerUsername)
	assert.Equal(t, "alice", bobView.PeerUsername)
	assert.Equal(t, aliceView.StartedAt, bobView.StartedAt)
	assert.Equal(t, "alice", aliceView.CallerUsername)
	assert.Equal(t, "alice", bobView.CallerUsername)
	assert.Equal(t, "bob", aliceView.ReceiverUsername)
	assert.Equal(t, "bob", bobView.ReceiverUsername)
}

func TestAnswer_RequiresExactPairing(t *testing.T) {
	h := newHarness("alice", "bob", "carol")
	h.allowAll()
	ctx := context.Background()
	require.NoError(t, h.coordinator.Offer(ctx, "alice-conn", "alice", OfferRequest{To: "bob"}))

	// carol is not part of the call
	err := h.coordinator.Answer(ctx, "carol", AnswerRequest{To: "alice"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	// the caller cannot answer its own offer
	err = h.coordinator.Answer(ctx, "alice", AnswerRequest{To: "bob"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	assert.Equal(t, PhasePendingCallee, h.state.Phase("bob"))
	assert.Empty(t, h.emitter.userEvents("alice", EventCallAnswer))
}

func TestScenario_FortyTwoSecondCall(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()
	ctx := context.Background()

	require.NoError(t, h.coordinator.Offer(ctx, "alice-conn", "alice", OfferRequest{To: "bob", CallType: "voice"}))
	offers := h.emitter.userEvents("bob", EventCallOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "alice", offers[0].Payload.(OfferPayload).From)
	assert.Equal(t, "voice", offers[0].Payload.(OfferPayload).CallType)

	require.NoError(t, h.coordinator.Answer(ctx, "bob", AnswerRequest{To: "alice"}))
	assert.Len(t, h.emitter.userEvents("alice", EventCallAnswer), 1)
	assert.Equal(t, PhaseActive, h.state.Phase("alice"))
	assert.Equal(t, PhaseActive, h.state.Phase("bob"))

	h.clock.Add(42 * time.Second)
	require.NoError(t, h.coordinator.Hangup(ctx, "alice", "", "ended"))

	entries := h.recorder.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CallStatusCompleted, entries[0].Status)
	assert.Equal(t, 42, entries[0].DurationSec)
	assert.Equal(t, "ended", entries[0].EndReason)
	assert.Equal(t, "alice", entries[0].Caller)
	assert.Equal(t, "bob", entries[0].Receiver)

	hangups := h.emitter.userEvents("bob", EventHangup)
	require.Len(t, hangups, 1)
	assert.Equal(t, HangupPayload{From: "alice", Reason: "ended"}, hangups[0].Payload)

	assert.Equal(t, PhaseIdle, h.state.Phase("alice"))
	assert.Equal(t, PhaseIdle, h.state.Phase("bob"))
}

func TestHangup_DurationIsFloored(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()
	h.connect(t, "alice", "bob")

	h.clock.Add(42*time.Second + 900*time.Millisecond)
	require.NoError(t, h.coordinator.Hangup(context.Background(), "bob", "", "ended"))

	entries := h.recorder.all()
	require.Len(t, entries, 1)
	assert.Equal(t, 42, entries[0].DurationSec)
}

func TestHangup_Idempotent(t *testing.T) {
	h := newHarness("alice", "bob")
	h.allowAll()
	h.connect(t, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, h.coordinator.Hangup(ctx, "alice", "bob", "ended"))
	require.NoError(t, h.coordinator.Hangup(ctx, "alice", "bob", "ended"))
	require.NoError(t, h.coordinator.Hangup(ctx, "bob", "", "ended"))

	assert.Len(t, h.recorder.all(), 1)
}

func TestHangup_PendingOutcomes(t *testing.T) {
	tests := []struct {
		reason   string
		expected string
	}{
		{ReasonNoAnswer, domain.CallStatusMissed},
		{"cancelled", domain.CallStatusCancelled},
		{"", domain.CallStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.expected+"/"+tt.reason, func(t *testing.T) {
			h := newHarness("alice", "bob")
			h.allowAll()
			require.NoError(t, h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"}))

			require.NoError(t, h.coordinator.Hangup(context.Background(), "alice", "bob", tt.reason))

			entries := h.recorder.all()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.expected, entries[0].Status)
			assert.Equal(t, 0, entries[0].DurationSec)
			assert.Nil(t, entries[0].StartedAt)
			assert.Len(t, h.emitter.userEvents("bob", EventHangup), 1)
		})
	}
}

func TestReject(t *testing.T) {
	t.Run("callee declines", func(t *testing.T) {
		h := newHarness("alice", "bob")
		h.allowAll()
		require.NoError(t, h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"}))

		require.NoError(t, h.coordinator.Reject(context.Background(), "bob", "alice", "declined"))

		entries := h.recorder.all()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.CallStatusRejected, entries[0].Status)
		assert.Equal(t, "alice", entries[0].Caller)
		assert.Equal(t, "bob", entries[0].Receiver)

		rejects := h.emitter.userEvents("alice", EventCallReject)
		require.Len(t, rejects, 1)
		assert.Equal(t, RejectPayload{From: "bob", Reason: "declined"}, rejects[0].Payload)
		assert.Equal(t, 0, h.state.Len())
	})

	t.Run("busy reason logs missed", func(t *testing.T) {
		h := newHarness("alice", "bob")
		h.allowAll()
		require.NoError(t, h.coordinator.Offer(context.Background(), "alice-conn", "alice", OfferRequest{To: "bob"}))

		require.NoError(t, h.coordinator.Reject(context.Background(), "bob", "alice", ReasonBusy))

		entries := h.recorder.all()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.CallStatusMissed, entries[0].Status)
	})

	t.Run("no pending call still relays", func(t *testing.T) {
		h := newHarness("alice", "bob")

		require.NoError(t, h.coordinator.Reject(context.Background(), "bob", "alice", "declined"))

		assert.Empty(t, h.recorder.all())
		assert.Len(t, h.emitter.userEvents("alice", EventCallReject), 1)
	})

	t.Run("active call is untouched", func(t *testing.T) {
		h := newHarness("alice", "bob")
		h.allowAll()
		h.connect(t, "alice", "bob")

		require.NoError(t, h.coordinator.Reject(context.Background(), "bob", "alice", "declined"))

		assert.Empty(t, h.recorder.all())
		assert.Equal(t, PhaseActive, h.state.Phase("alice"))
	})
}

func TestIceCandidate_PureRelay(t *testing.T) {
	h := newHarness()
	candidate := json.RawMessage(`{"candidate":"a=1"}`)

	require.NoError(t, h.coordinator.IceCandidate(context.Background(), "alice", IceCandidateRequest{To: "bob", Candidate: candidate}))

	events := h.emitter.userEvents("bob", EventIceCandidate)
	require.Len(t, events, 1)
	assert.Equal(t, IceCandidatePayload{From: "alice", Candidate: candidate}, events[0].Payload)
}
