// Package presence tracks which users hold live gateway connections.
package presence

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"pulse-backend/pkg/logger"
)

// UserRepository interface
type UserRepository interface {
	VisibleUsernames(ctx context.Context, usernames []string) ([]string, error)
}

// Mirror publishes online/offline transitions to a shared store
type Mirror interface {
	SetUserOnline(ctx context.Context, username string) error
	SetUserOffline(ctx context.Context, username string) error
	RefreshPresence(ctx context.Context, username string) error
}

// Registry is the connection index: connection id -> username, and the
// reverse set per username for multi-device users
type Registry struct {
	mu          sync.RWMutex
	connections map[string]string
	byUser      map[string]map[string]struct{}

	userRepo UserRepository
	mirror   Mirror
}

// NewRegistry creates a Registry. mirror may be nil.
func NewRegistry(userRepo UserRepository, mirror Mirror) *Registry {
	return &Registry{
		connections: make(map[string]string),
		byUser:      make(map[string]map[string]struct{}),
		userRepo:    userRepo,
		mirror:      mirror,
	}
}

// Register adds a connection and reports whether it is the user's first
func (r *Registry) Register(ctx context.Context, connID, username string) bool {
	r.mu.Lock()
	if _, exists := r.connections[connID]; exists {
		r.mu.Unlock()
		return false
	}
	r.connections[connID] = username
	conns, ok := r.byUser[username]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[username] = conns
	}
	conns[connID] = struct{}{}
	first := len(conns) == 1
	r.mu.Unlock()

	if first && r.mirror != nil {
		if err := r.mirror.SetUserOnline(ctx, username); err != nil {
			logger.Debug("Presence mirror update failed",
				zap.String("username", username),
				zap.Error(err))
		}
	}
	return first
}

// Unregister removes a connection. last is true when the user has no
// connections left and is now offline.
func (r *Registry) Unregister(ctx context.Context, connID string) (username string, last bool) {
	r.mu.Lock()
	username, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.connections, connID)
	conns := r.byUser[username]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, username)
		last = true
	}
	r.mu.Unlock()

	if last && r.mirror != nil {
		if err := r.mirror.SetUserOffline(ctx, username); err != nil {
			logger.Debug("Presence mirror update failed",
				zap.String("username", username),
				zap.Error(err))
		}
	}
	return username, last
}

// Refresh extends the mirrored presence TTL for a user still connected
func (r *Registry) Refresh(ctx context.Context, username string) {
	if r.mirror == nil || !r.IsOnline(username) {
		return
	}
	if err := r.mirror.RefreshPresence(ctx, username); err != nil {
		logger.Debug("Presence refresh failed",
			zap.String("username", username),
			zap.Error(err))
	}
}

// Username returns the owner of a connection
func (r *Registry) Username(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.connections[connID]
	return username, ok
}

// Connections returns the user's live connection ids
func (r *Registry) Connections(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[username]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether the user has at least one connection
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[username]) > 0
}

// OnlineUsernames returns every connected username, sorted
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	usernames := make([]string, 0, len(r.byUser))
	for username := range r.byUser {
		usernames = append(usernames, username)
	}
	r.mu.RUnlock()

	sort.Strings(usernames)
	return usernames
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// VisibleOnlineUsernames returns the connected users who allow their status to
// be shown. A lookup failure hides everyone rather than leaking hidden users.
func (r *Registry) VisibleOnlineUsernames(ctx context.Context) []string {
	online := r.OnlineUsernames()
	if len(online) == 0 {
		return []string{}
	}

	visible, err := r.userRepo.VisibleUsernames(ctx, online)
	if err != nil {
		logger.Warn("Failed to resolve online visibility, hiding online list",
			zap.Int("online", len(online)),
			zap.Error(err))
		return []string{}
	}

	seen := make(map[string]struct{}, len(visible))
	result := make([]string, 0, len(visible))
	for _, username := range visible {
		if _, dup := seen[username]; dup {
			continue
		}
		seen[username] = struct{}{}
		result = append(result, username)
	}
	sort.Strings(result)
	return result
}
