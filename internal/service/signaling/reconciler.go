package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"pulse-backend/pkg/constants"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

type graceTimer struct {
	timer *clock.Timer
	gen   uint64
}

// Reconciler finalizes call state for users whose last connection dropped.
// A ringing callee is rejected at once; anything else gets a grace period so
// a page refresh or a flaky network does not end the call.
type Reconciler struct {
	coordinator *Coordinator
	presence    Presence
	clock       clock.Clock
	grace       time.Duration

	mu     sync.Mutex
	timers map[string]*graceTimer
	gen    uint64
}

// NewReconciler creates a new Reconciler
func NewReconciler(coordinator *Coordinator, presence Presence, grace time.Duration, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	if grace <= 0 {
		grace = constants.CallGracePeriod
	}
	return &Reconciler{
		coordinator: coordinator,
		presence:    presence,
		clock:       clk,
		grace:       grace,
		timers:      make(map[string]*graceTimer),
	}
}

// UserDisconnected is called when username drops to zero connections
func (r *Reconciler) UserDisconnected(ctx context.Context, username string) {
	r.cancel(username)

	// Another device may have registered since the last one dropped
	if r.presence.IsOnline(username) {
		return
	}

	state := r.coordinator.State()
	if state.Phase(username) == PhasePendingCallee {
		if session, ok := state.Session(username); ok {
			if err := r.coordinator.Reject(ctx, username, session.Caller, ReasonOffline); err != nil {
				logger.FromContext(ctx).Warn("Failed to reject call for offline callee",
					zap.String("username", username),
					zap.Error(err))
			}
		}
	}

	if state.Phase(username) == PhaseIdle {
		return
	}
	r.arm(username)
}

// UserReconnected cancels a pending grace timer; call state is kept
func (r *Reconciler) UserReconnected(username string) {
	if r.cancel(username) {
		logger.Debug("Reconnected within call grace period", zap.String("username", username))
	}
}

// Pending reports whether username has a grace timer running
func (r *Reconciler) Pending(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[username]
	return ok
}

// Shutdown stops every pending timer
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for username, t := range r.timers {
		t.timer.Stop()
		delete(r.timers, username)
	}
	metrics.GraceTimersActive.Set(0)
}

func (r *Reconciler) arm(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[username]; ok {
		existing.timer.Stop()
	} else {
		metrics.GraceTimersActive.Inc()
	}

	r.gen++
	gen := r.gen
	r.timers[username] = &graceTimer{
		gen:   gen,
		timer: r.clock.AfterFunc(r.grace, func() { r.fire(username, gen) }),
	}
}

func (r *Reconciler) cancel(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[username]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(r.timers, username)
	metrics.GraceTimersActive.Dec()
	return true
}

func (r *Reconciler) fire(username string, gen uint64) {
	r.mu.Lock()
	t, ok := r.timers[username]
	if !ok || t.gen != gen {
		// Cancelled or replaced after the timer had already started
		r.mu.Unlock()
		return
	}
	delete(r.timers, username)
	metrics.GraceTimersActive.Dec()
	r.mu.Unlock()

	if r.presence.IsOnline(username) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()

	switch r.coordinator.State().Phase(username) {
	case PhaseActive, PhasePendingCaller:
		logger.Info("Call grace period expired, ending call", zap.String("username", username))
		if err := r.coordinator.Hangup(ctx, username, "", ReasonOffline); err != nil {
			logger.Warn("Failed to end call after grace period",
				zap.String("username", username),
				zap.Error(err))
		}
	}
}
