package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/atm-service/internal/domain"
)

// ErrSessionNotFound is returned for unknown, closed or idle-expired sessions.
var ErrSessionNotFound = errors.New("session not found")

type sessionEntry struct {
	mu         sync.Mutex
	controller *Controller
	lastSeen   time.Time
}

// SessionRegistry maps session IDs to controllers for the HTTP front-end. Calls
// for one session are serialised, since a Controller is single-caller.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
	factory  func() *Controller
	idleTTL  time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry; factory builds a fresh controller per login.
func NewSessionRegistry(factory func() *Controller, idleTTL time.Duration, now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{
		sessions: make(map[uuid.UUID]*sessionEntry),
		factory:  factory,
		idleTTL:  idleTTL,
		now:      now,
	}
}

// Open logs in on a new controller and registers it when authentication succeeds.
func (r *SessionRegistry) Open(ctx context.Context, card, pin string) (uuid.UUID, domain.CardNumber, bool, error) {
	controller := r.factory()
	ok, err := controller.Login(ctx, card, pin)
	if err != nil || !ok {
		return uuid.Nil, "", false, err
	}
	bound, _ := controller.CurrentCard()

	id := uuid.New()
	r.mu.Lock()
	r.sessions[id] = &sessionEntry{controller: controller, lastSeen: r.now()}
	r.mu.Unlock()
	return id, bound, true, nil
}

func (r *SessionRegistry) lookup(id uuid.UUID) (*sessionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// With runs fn against the session's controller and refreshes its idle timer.
func (r *SessionRegistry) With(id uuid.UUID, fn func(*Controller) error) error {
	entry, err := r.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.now()
	if !entry.controller.IsAuthenticated() || r.expired(entry, now) {
		r.remove(id)
		return ErrSessionNotFound
	}
	entry.lastSeen = now
	return fn(entry.controller)
}

// Close logs the session out and forgets it.
func (r *SessionRegistry) Close(id uuid.UUID) error {
	entry, err := r.lookup(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.controller.Logout()
	entry.mu.Unlock()
	r.remove(id)
	return nil
}

// Sweep logs out and removes idle sessions and returns how many were removed.
func (r *SessionRegistry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.sessions {
		if !entry.mu.TryLock() {
			continue
		}
		if r.expired(entry, now) {
			entry.controller.Logout()
			delete(r.sessions, id)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) expired(entry *sessionEntry, now time.Time) bool {
	return r.idleTTL > 0 && now.Sub(entry.lastSeen) > r.idleTTL
}

func (r *SessionRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
