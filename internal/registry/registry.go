// Package registry tracks the active run of every target.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("target already has an active session")
	ErrNotFound       = errors.New("session not found")
)

// Entry is one registered session.
type Entry[S any] struct {
	ID      string
	Target  string
	Started time.Time
	Session S
}

// Registry maps target identity to at most one session. The check for an
// existing session and the insert happen under one lock.
type Registry[S any] struct {
	mu       sync.RWMutex
	byID     map[string]*Entry[S]
	byTarget map[string]string
}

func New[S any]() *Registry[S] {
	return &Registry[S]{
		byID:     make(map[string]*Entry[S]),
		byTarget: make(map[string]string),
	}
}

// Register reserves target and returns the new session ID. build is called
// with the ID while the lock is held, so the stored session can know its own
// ID; it must not call back into the registry.
func (r *Registry[S]) Register(target string, build func(id string) S) (string, error) {
	key := TargetKey(target)

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byTarget[key]; ok {
		return "", fmt.Errorf("%w: %s (session %s)", ErrAlreadyRunning, target, id)
	}
	id := uuid.NewString()
	r.byID[id] = &Entry[S]{
		ID:      id,
		Target:  target,
		Started: time.Now(),
		Session: build(id),
	}
	r.byTarget[key] = id
	return id, nil
}

func (r *Registry[S]) Get(id string) (Entry[S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Entry[S]{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *e, nil
}

// Remove deletes the session and frees its target. Removing an unknown ID
// reports ErrNotFound.
func (r *Registry[S]) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	delete(r.byTarget, TargetKey(e.Target))
	return nil
}

// List returns all entries ordered by start time.
func (r *Registry[S]) List() []Entry[S] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry[S], 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry[S]) int {
		return a.Started.Compare(b.Started)
	})
	return out
}

func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// TargetKey normalizes a target URL to its identity: lower-cased scheme and
// host plus the path without a trailing slash. Query and fragment are ignored.
// Strings that do not parse as URLs are compared verbatim.
func TargetKey(target string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(target)
	}
	host := strings.ToLower(u.Host)
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host + strings.TrimSuffix(u.EscapedPath(), "/")
}
