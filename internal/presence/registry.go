// ABOUTME: Manages live sessions per user, handles registration and lookup.
// ABOUTME: Central registry for the live-push channel; purely in-memory state.

package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Event is the payload pushed to live sessions when a message lands.
type Event struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is one live connection capable of receiving pushed events.
// A user may hold several sessions at once (tabs, devices); each gets every
// push. Push must not block: implementations buffer and drop when full.
type Session interface {
	ID() string
	Push(event *Event) error
}

// Registry tracks which sessions are live for each user. It holds no durable
// state: on restart it starts empty and clients re-register on reconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Session // userID -> sessionID -> session
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]map[string]Session),
		logger:   logger.With("component", "presence"),
	}
}

// Register adds a session to the user's live set. Registering the same
// session id twice replaces the previous handle.
func (r *Registry) Register(userID string, session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; !ok {
		r.sessions[userID] = make(map[string]Session)
	}
	r.sessions[userID][session.ID()] = session

	r.logger.Debug("session registered",
		"user_id", userID,
		"session_id", session.ID(),
		"live_sessions", len(r.sessions[userID]))
}

// Unregister removes a session from the user's live set. Idempotent:
// removing a session that isn't present is a no-op, since disconnects can
// race with cleanup.
func (r *Registry) Unregister(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.sessions[userID]
	if !ok {
		return
	}
	if _, exists := subs[sessionID]; !exists {
		return
	}

	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(r.sessions, userID)
	}

	r.logger.Debug("session unregistered",
		"user_id", userID,
		"session_id", sessionID)
}

// SessionsFor returns a snapshot of the user's live sessions, possibly empty.
// The snapshot is safe to iterate without holding the registry lock.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.sessions[userID]
	if !ok {
		return nil
	}

	snapshot := make([]Session, 0, len(subs))
	for _, s := range subs {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// SessionCount returns the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subs := range r.sessions {
		total += len(subs)
	}
	return total
}
