package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
)

const contextStripes = 64

// ContextStore holds per-conversation state in memory. Entries are
// immutable values; every mutation replaces the whole value under a
// per-conversation lock, so readers never observe a partial update.
// Conversations are evicted by LRU once the store is full and after a
// period of inactivity.
type ContextStore struct {
	lru     *expirable.LRU[string, *conversation.Context]
	stripes [contextStripes]sync.Mutex
	now     func() time.Time

	eventsMu sync.Mutex
	events   []event.Audit
	next     int
	wrapped  bool
	sinks    []AuditSink
}

// NewContextStore creates a store sized by cfg. Audit events are kept in a
// bounded ring and forwarded to sinks.
func NewContextStore(cfg config.ContextStore, sinks ...AuditSink) *ContextStore {
	size := cfg.MaxConversations
	if size < 1 {
		size = 1
	}
	maxEvents := cfg.MaxEvents
	if maxEvents < 1 {
		maxEvents = 1
	}
	return &ContextStore{
		lru:    expirable.NewLRU[string, *conversation.Context](size, nil, cfg.TTL),
		now:    time.Now,
		events: make([]event.Audit, maxEvents),
		sinks:  sinks,
	}
}

func (s *ContextStore) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.stripes[h.Sum32()%contextStripes]
}

// Store overwrites the context for id.
func (s *ContextStore) Store(id string, c *conversation.Context) {
	if c == nil {
		c = conversation.New(id, s.now())
	} else if c.ID != id {
		c = c.WithID(id)
	}
	mu := s.stripe(id)
	mu.Lock()
	s.lru.Add(id, c)
	mu.Unlock()
}

// Get returns the context for id, or a fresh empty one. It never returns nil.
func (s *ContextStore) Get(id string) *conversation.Context {
	if c, ok := s.lru.Get(id); ok {
		return c
	}
	return conversation.New(id, s.now())
}

// Has reports whether a live context exists for id.
func (s *ContextStore) Has(id string) bool {
	_, ok := s.lru.Peek(id)
	return ok
}

// Clear removes the context for id.
func (s *ContextStore) Clear(id string) {
	mu := s.stripe(id)
	mu.Lock()
	s.lru.Remove(id)
	mu.Unlock()
}

// Update atomically replaces the context for id with fn's result and
// returns it. fn receives the current value (or a fresh one) and must not
// mutate it; it returns a new value built with the With* methods. A nil
// return leaves the stored value unchanged.
func (s *ContextStore) Update(id string, fn func(*conversation.Context) *conversation.Context) *conversation.Context {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	cur := s.Get(id)
	next := fn(cur)
	if next == nil {
		next = cur
	}
	if next.ID != id {
		next = next.WithID(id)
	}
	s.lru.Add(id, next)
	return next
}

// Len returns the number of live conversations.
func (s *ContextStore) Len() int {
	return s.lru.Len()
}

// RecordEvent appends an audit event and forwards it to the sinks. Audit
// events are informational; nothing in the request path reads them back.
func (s *ContextStore) RecordEvent(ctx context.Context, from, to, message string, data map[string]any) event.Audit {
	ev := event.New(from, to, message, data, s.now())

	s.eventsMu.Lock()
	s.events[s.next] = ev
	s.next++
	if s.next == len(s.events) {
		s.next = 0
		s.wrapped = true
	}
	s.eventsMu.Unlock()

	for _, sink := range s.sinks {
		sink.Emit(ctx, ev)
	}
	slog.Debug("audit event", "from", from, "to", to, "message", message)
	return ev
}

// Events returns up to limit of the most recent audit events, oldest first.
// A non-positive limit returns everything retained.
func (s *ContextStore) Events(limit int) []event.Audit {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	var ordered []event.Audit
	if s.wrapped {
		ordered = append(ordered, s.events[s.next:]...)
	}
	ordered = append(ordered, s.events[:s.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// EventsFor returns up to limit recent audit events for one conversation,
// oldest first.
func (s *ContextStore) EventsFor(conversationID string, limit int) []event.Audit {
	var out []event.Audit
	for _, ev := range s.Events(0) {
		if ev.ConversationID() == conversationID {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
