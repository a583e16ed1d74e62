// Package sessions implements the Session Registry (spec.md §4.6): an
// in-memory index of live (instance id, session id) pairs, each bound to a
// PTY. The registry owns no orchestrator state — it only tracks which
// session ids are claimed for which instance, and the handle the PTY
// Broker needs to reach the underlying stream.
package sessions

import (
	"sync"

	apperrors "github.com/jaewoo-rain/webide-broker/internal/errors"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
)

// Session is one live interactive channel bound to an instance.
type Session struct {
	ID         string
	InstanceID string
	PTY        orchestrator.PTY
}

// Registry is a table-level-locked (instance id, session id) index.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by session id
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Insert claims sessionID for instanceID atomically. It fails with a
// Conflict AppError if sessionID is already claimed, regardless of which
// instance claimed it — session ids are globally unique per spec.md §4.6.
func (r *Registry) Insert(sessionID, instanceID string, pty orchestrator.PTY) *apperrors.AppError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return apperrors.Conflict("session id already claimed")
	}
	r.sessions[sessionID] = &Session{ID: sessionID, InstanceID: instanceID, PTY: pty}
	return nil
}

// Get returns the session for sessionID, or a NoSession AppError.
func (r *Registry) Get(sessionID string) (*Session, *apperrors.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.NoSession(sessionID)
	}
	return s, nil
}

// Remove drops sessionID from the table. Idempotent.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// RemoveAllForInstance drops every session bound to instanceID, returning
// their PTYs so the caller (instance teardown) can close them.
func (r *Registry) RemoveAllForInstance(instanceID string) []orchestrator.PTY {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ptys []orchestrator.PTY
	for id, s := range r.sessions {
		if s.InstanceID == instanceID {
			ptys = append(ptys, s.PTY)
			delete(r.sessions, id)
		}
	}
	return ptys
}

// Exists reports whether sessionID is currently claimed.
func (r *Registry) Exists(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// CountForInstance returns the number of live sessions bound to instanceID.
func (r *Registry) CountForInstance(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.InstanceID == instanceID {
			n++
		}
	}
	return n
}
