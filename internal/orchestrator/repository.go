package orchestrator

import (
	"errors"
	"sort"
	"sync"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// relay sessions.
type Repository interface {
	// AddSession records a new session. Adding an id twice is an error.
	AddSession(s *Session) error

	// GetSession returns the session with the given id.
	GetSession(id SessionID) (*Session, bool)

	// ListSessions returns all sessions ordered by start time, oldest first.
	ListSessions() []*Session

	// RemoveSession forgets a session. Removing an unknown id is a no-op.
	RemoveSession(id SessionID)

	// PruneFinished removes every session whose relay has finished and
	// returns how many were removed.
	PruneFinished() int

	// ActiveSessionCount returns the number of sessions whose relay has not
	// finished. Used for metrics.
	ActiveSessionCount() int
}

// ErrSessionExists is returned when a session id is added twice.
var ErrSessionExists = errors.New("session already exists")

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// AddSession implements Repository.AddSession.
func (r *InMemoryRepository) AddSession(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(s.ID); exists {
		return ErrSessionExists
	}
	r.store.SetSession(s)
	return nil
}

// GetSession implements Repository.GetSession.
func (r *InMemoryRepository) GetSession(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetSession(id)
}

// ListSessions implements Repository.ListSessions.
func (r *InMemoryRepository) ListSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListSessionIDs()
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.GetSession(id); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// RemoveSession implements Repository.RemoveSession.
func (r *InMemoryRepository) RemoveSession(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.DeleteSession(id)
}

// PruneFinished implements Repository.PruneFinished.
func (r *InMemoryRepository) PruneFinished() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && !s.Active() {
			r.store.DeleteSession(id)
			n++
		}
	}
	return n
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if s, ok := r.store.GetSession(id); ok && s.Active() {
			n++
		}
	}
	return n
}
