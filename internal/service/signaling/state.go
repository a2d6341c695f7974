package signaling

import (
	"errors"
	"sync"
	"time"
)

// Phase is a user's position in the call lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePendingCaller
	PhasePendingCallee
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhasePendingCaller:
		return "pending_caller"
	case PhasePendingCallee:
		return "pending_callee"
	case PhaseActive:
		return "active"
	default:
		return "idle"
	}
}

// ErrBusy is returned when either party already holds a call
var ErrBusy = errors.New("user is busy")

// Session is one call attempt shared by both participants
type Session struct {
	Caller    string
	Callee    string
	CallType  string
	Active    bool
	CreatedAt time.Time
	StartedAt time.Time
}

// Peer returns the other participant
func (s Session) Peer(username string) string {
	if username == s.Caller {
		return s.Callee
	}
	return s.Caller
}

// PendingCall is the ringing view of a session
type PendingCall struct {
	CallerUsername string
	CalleeUsername string
	CallType       string
}

// ActiveCall is one participant's view of an answered session
type ActiveCall struct {
	PeerUsername     string
	StartedAt        time.Time
	CallerUsername   string
	ReceiverUsername string
}

// State holds every in-flight call. Both participants index the same
// session, so lookups work from either side and the active view is
// symmetric. Methods never block on anything but the mutex.
type State struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewState creates an empty State
func NewState() *State {
	return &State{sessions: make(map[string]*Session)}
}

// Phase returns username's current phase
func (s *State) Phase(username string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return phaseOf(s.sessions[username], username)
}

func phaseOf(session *Session, username string) Phase {
	switch {
	case session == nil:
		return PhaseIdle
	case session.Active:
		return PhaseActive
	case session.Caller == username:
		return PhasePendingCaller
	default:
		return PhasePendingCallee
	}
}

// Busy reports whether username is in any non-idle phase
func (s *State) Busy(username string) bool {
	return s.Phase(username) != PhaseIdle
}

// Session returns a copy of username's session
func (s *State) Session(username string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[username]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// BeginPending creates a ringing session if both users are idle
func (s *State) BeginPending(caller, callee, callType string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[caller] != nil || s.sessions[callee] != nil {
		return ErrBusy
	}
	session := &Session{
		Caller:    caller,
		Callee:    callee,
		CallType:  callType,
		CreatedAt: now,
	}
	s.sessions[caller] = session
	s.sessions[callee] = session
	return nil
}

// Promote answers the pending session with exactly this caller and callee
func (s *State) Promote(caller, callee string, now time.Time) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.sessions[callee]
	if session == nil || session.Active || session.Caller != caller || session.Callee != callee {
		return Session{}, false
	}
	session.Active = true
	session.StartedAt = now
	return *session, true
}

// ClearPending removes a ringing session between a and b in either direction
func (s *State) ClearPending(a, b string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.sessions[a]
	if session == nil || session.Active || session.Peer(a) != b {
		return Session{}, false
	}
	s.removeLocked(session)
	return *session, true
}

// End removes whatever session username is part of
func (s *State) End(username string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.sessions[username]
	if session == nil {
		return Session{}, false
	}
	s.removeLocked(session)
	return *session, true
}

func (s *State) removeLocked(session *Session) {
	if s.sessions[session.Caller] == session {
		delete(s.sessions, session.Caller)
	}
	if s.sessions[session.Callee] == session {
		delete(s.sessions, session.Callee)
	}
}

// PendingCall returns the ringing call username is part of
func (s *State) PendingCall(username string) (PendingCall, bool) {
	session, ok := s.Session(username)
	if !ok || session.Active {
		return PendingCall{}, false
	}
	return PendingCall{
		CallerUsername: session.Caller,
		CalleeUsername: session.Callee,
		CallType:       session.CallType,
	}, true
}

// ActiveCall returns username's view of an answered call
func (s *State) ActiveCall(username string) (ActiveCall, bool) {
	session, ok := s.Session(username)
	if !ok || !session.Active {
		return ActiveCall{}, false
	}
	return ActiveCall{
		PeerUsername:     session.Peer(username),
		StartedAt:        session.StartedAt,
		CallerUsername:   session.Caller,
		ReceiverUsername: session.Callee,
	}, true
}

// Len returns the number of users holding call state
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
