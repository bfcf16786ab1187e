// Package actor carries the acting user and correlation id of one unit of
// work through its context.
package actor

import (
	"context"
	"sync"
)

type contextKey struct{}

type scope struct {
	mu            sync.RWMutex
	actorID       string
	correlationID string
	released      bool
}

func (s *scope) get(pick func(*scope) string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.released {
		return "", false
	}
	v := pick(s)
	return v, v != ""
}

func (s *scope) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.actorID = ""
	s.correlationID = ""
}

// Begin opens an actor scope for one unit of work. The returned release
// function must run on every exit path; after it runs the values are absent
// even for goroutines that still hold the context.
func Begin(ctx context.Context, actorID, correlationID string) (context.Context, func()) {
	s := &scope{actorID: actorID, correlationID: correlationID}
	var once sync.Once
	return context.WithValue(ctx, contextKey{}, s), func() { once.Do(s.release) }
}

func fromContext(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(contextKey{}).(*scope)
	return s
}

// ActorID returns the acting user of the current scope.
func ActorID(ctx context.Context) (string, bool) {
	s := fromContext(ctx)
	if s == nil {
		return "", false
	}
	return s.get(func(s *scope) string { return s.actorID })
}

// CorrelationID returns the correlation id of the current scope.
func CorrelationID(ctx context.Context) (string, bool) {
	s := fromContext(ctx)
	if s == nil {
		return "", false
	}
	return s.get(func(s *scope) string { return s.correlationID })
}

// Ptr adapts a lookup result to an optional value.
func Ptr(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
