package signaling

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"pulse-backend/internal/domain"
)

type sentEvent struct {
	Target  string
	Event   string
	Payload interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	toUser []sentEvent
	toConn []sentEvent
}

func (e *fakeEmitter) ToUser(username, event string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toUser = append(e.toUser, sentEvent{Target: username, Event: event, Payload: payload})
}

func (e *fakeEmitter) ToConnection(connID, event string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toConn = append(e.toConn, sentEvent{Target: connID, Event: event, Payload: payload})
}

func (e *fakeEmitter) userEvents(username, event string) []sentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []sentEvent
	for _, s := range e.toUser {
		if s.Target == username && s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (e *fakeEmitter) connEvents(connID string) []sentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []sentEvent
	for _, s := range e.toConn {
		if s.Target == connID {
			out = append(out, s)
		}
	}
	return out
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence(usernames ...string) *fakePresence {
	p := &fakePresence{online: make(map[string]bool)}
	for _, u := range usernames {
		p.online[u] = true
	}
	return p
}

func (p *fakePresence) IsOnline(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[username]
}

func (p *fakePresence) set(username string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[username] = online
}

type MockCallPolicy struct {
	mock.Mock
}

func (m *MockCallPolicy) AllowCall(ctx context.Context, caller, callee string) (bool, error) {
	args := m.Called(ctx, caller, callee)
	return args.Bool(0), args.Error(1)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []domain.CallLogEntry
}

func (r *fakeRecorder) Record(ctx context.Context, entry domain.CallLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *fakeRecorder) all() []domain.CallLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
