// Package signaling runs the voice/video call state machine: offers, answers,
// rejections, hangups and the disconnect grace handling around them. Media
// never passes through here; SDP and ICE payloads are relayed opaquely.
package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"pulse-backend/internal/domain"
	"pulse-backend/pkg/constants"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// Emitter delivers server events to connected clients
type Emitter interface {
	ToUser(username, event string, payload interface{})
	ToConnection(connID, event string, payload interface{})
}

// Presence answers whether a user holds live connections
type Presence interface {
	IsOnline(username string) bool
}

// CallPolicy decides whether a caller may ring a callee
type CallPolicy interface {
	AllowCall(ctx context.Context, caller, callee string) (bool, error)
}

// Recorder persists terminated calls
type Recorder interface {
	Record(ctx context.Context, entry domain.CallLogEntry)
}

// Coordinator applies call signaling events to State
type Coordinator struct {
	state    *State
	presence Presence
	policy   CallPolicy
	recorder Recorder
	emitter  Emitter
	clock    clock.Clock
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(state *State, presence Presence, policy CallPolicy, recorder Recorder, emitter Emitter, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		state:    state,
		presence: presence,
		policy:   policy,
		recorder: recorder,
		emitter:  emitter,
		clock:    clk,
	}
}

// State exposes the call state for read-only callers
func (c *Coordinator) State() *State {
	return c.state
}

// Offer starts ringing callee. Busy and unavailable outcomes are reported to
// the offering connection only.
func (c *Coordinator) Offer(ctx context.Context, connID, caller string, req OfferRequest) error {
	callee := req.To
	if callee == "" || callee == caller {
		return apperrors.ValidationError("A different user to call is required")
	}
	callType := req.CallType
	if callType == "" {
		callType = constants.CallTypeVoice
	}
	if callType != constants.CallTypeVoice && callType != constants.CallTypeVideo {
		return apperrors.ValidationError("Unknown call type")
	}

	if c.state.Busy(caller) {
		return c.busy(connID, callee)
	}

	if !c.presence.IsOnline(callee) {
		return c.unavailable(connID, callee, ReasonOffline)
	}

	allowed, err := c.policy.AllowCall(ctx, caller, callee)
	if err != nil {
		logger.FromContext(ctx).Error("Call policy lookup failed",
			zap.String("caller", caller),
			zap.String("callee", callee),
			zap.Error(err))
		return c.unavailable(connID, callee, ReasonNotAllowed)
	}
	if !allowed {
		return c.unavailable(connID, callee, ReasonNotAllowed)
	}

	// The policy lookup yielded; the callee may have gone offline meanwhile
	if !c.presence.IsOnline(callee) {
		return c.unavailable(connID, callee, ReasonOffline)
	}
	if err := c.state.BeginPending(caller, callee, callType, c.clock.Now()); err != nil {
		return c.busy(connID, callee)
	}

	metrics.CallOffersTotal.WithLabelValues("relayed").Inc()
	c.emitter.ToUser(callee, EventCallOffer, OfferPayload{
		From:     caller,
		CallType: callType,
		Offer:    req.Offer,
	})
	return nil
}

// Answer accepts the pending call from req.To
func (c *Coordinator) Answer(ctx context.Context, callee string, req AnswerRequest) error {
	caller := req.To
	if caller == "" {
		return apperrors.ValidationError("Caller is required")
	}

	if _, ok := c.state.Promote(caller, callee, c.clock.Now()); !ok {
		return apperrors.NotFoundError("Pending call")
	}

	metrics.ActiveCalls.Inc()
	c.emitter.ToUser(caller, EventCallAnswer, AnswerPayload{
		From:   callee,
		Answer: req.Answer,
	})
	return nil
}

// IceCandidate relays a candidate without consulting state
func (c *Coordinator) IceCandidate(ctx context.Context, from string, req IceCandidateRequest) error {
	if req.To == "" {
		return apperrors.ValidationError("Recipient is required")
	}

	c.emitter.ToUser(req.To, EventIceCandidate, IceCandidatePayload{
		From:      from,
		Candidate: req.Candidate,
	})
	return nil
}

// Reject declines or withdraws a ringing call between from and to. The reject
// is always relayed; a log is written only if a pending call existed.
func (c *Coordinator) Reject(ctx context.Context, from, to, reason string) error {
	if to == "" {
		return apperrors.ValidationError("Recipient is required")
	}
	if reason == "" {
		reason = ReasonUnspecified
	}

	session, existed := c.state.ClearPending(from, to)

	c.emitter.ToUser(to, EventCallReject, RejectPayload{
		From:   from,
		Reason: reason,
	})

	if existed {
		status := domain.CallStatusRejected
		if reason == ReasonBusy {
			status = domain.CallStatusMissed
		}
		now := c.clock.Now()
		c.recorder.Record(ctx, domain.CallLogEntry{
			Caller:    session.Caller,
			Receiver:  session.Callee,
			Status:    status,
			EndedAt:   &now,
			EndReason: reason,
			CallType:  session.CallType,
		})
	}
	return nil
}

// Hangup ends whatever call from is part of. Calling it with no call state
// is a no-op apart from relaying to an explicit recipient.
func (c *Coordinator) Hangup(ctx context.Context, from, to, reason string) error {
	if reason == "" {
		reason = ReasonEnded
	}

	session, existed := c.state.End(from)

	peer := to
	if peer == "" && existed {
		peer = session.Peer(from)
	}
	if peer != "" {
		c.emitter.ToUser(peer, EventHangup, HangupPayload{From: from, Reason: reason})
	}
	if existed && session.Peer(from) != peer {
		c.emitter.ToUser(session.Peer(from), EventHangup, HangupPayload{From: from, Reason: reason})
	}

	if !existed {
		return nil
	}

	now := c.clock.Now()
	entry := domain.CallLogEntry{
		Caller:    session.Caller,
		Receiver:  session.Callee,
		EndedAt:   &now,
		EndReason: reason,
		CallType:  session.CallType,
	}
	if session.Active {
		metrics.ActiveCalls.Dec()
		started := session.StartedAt
		entry.Status = domain.CallStatusCompleted
		entry.StartedAt = &started
		entry.DurationSec = durationSeconds(session, now)
	} else if reason == ReasonNoAnswer {
		entry.Status = domain.CallStatusMissed
	} else {
		entry.Status = domain.CallStatusCancelled
	}

	c.recorder.Record(ctx, entry)
	return nil
}

func (c *Coordinator) busy(connID, callee string) error {
	metrics.CallOffersTotal.WithLabelValues("busy").Inc()
	c.emitter.ToConnection(connID, EventBusy, BusyPayload{To: callee})
	return apperrors.UserBusyError()
}

func (c *Coordinator) unavailable(connID, callee, reason string) error {
	outcome := "offline"
	if reason == ReasonNotAllowed {
		outcome = "not_allowed"
	}
	metrics.CallOffersTotal.WithLabelValues(outcome).Inc()
	c.emitter.ToConnection(connID, EventUserUnavailable, UnavailablePayload{To: callee, Reason: reason})
	return apperrors.UserUnavailableError(reason)
}

func durationSeconds(session Session, now time.Time) int {
	d := now.Sub(session.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// IsHandled reports whether err is an expected signaling outcome the client
// has already been told about
func IsHandled(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == apperrors.ErrCodeUserBusy || appErr.Code == apperrors.ErrCodeUserUnavailable
}
