// Package conversation defines the per-conversation state consulted and
// updated across requests.
//
// A Context is an immutable value once handed to the store: every With*
// method returns a new Context and leaves the receiver untouched.
package conversation

import (
	"maps"
	"slices"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Well-known workflow fact keys.
const (
	FactSubscriptionID       = "last_subscription_id"
	FactResourceGroup        = "last_resource_group"
	FactRegion               = "last_region"
	FactLastIntent           = "last_intent"
	FactPendingClarification = "pending_clarification"
)

// Message is one turn of the conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Fact is a last-write-wins workflow value with its recency.
type Fact struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Context is the accumulated state of one conversation.
type Context struct {
	ID           string            `json:"id"`
	Messages     []Message         `json:"messages"`
	Results      []executor.Result `json:"results"`
	Facts        map[string]Fact   `json:"facts"`
	LastActivity time.Time         `json:"last_activity"`
}

// New returns an empty context for id.
func New(id string, now time.Time) *Context {
	return &Context{
		ID:           id,
		Facts:        map[string]Fact{},
		LastActivity: now,
	}
}

// clone copies the slices and map so the copy can be extended freely.
func (c *Context) clone() *Context {
	if c == nil {
		return New("", time.Time{})
	}
	return &Context{
		ID:           c.ID,
		Messages:     slices.Clone(c.Messages),
		Results:      slices.Clone(c.Results),
		Facts:        maps.Clone(c.Facts),
		LastActivity: c.LastActivity,
	}
}

// WithID returns a copy bound to id.
func (c *Context) WithID(id string) *Context {
	out := c.clone()
	out.ID = id
	return out
}

// WithMessage returns a copy with msg appended to the history.
func (c *Context) WithMessage(role Role, content string, at time.Time) *Context {
	out := c.clone()
	out.Messages = append(out.Messages, Message{Role: role, Content: content, Timestamp: at})
	out.LastActivity = at
	return out
}

// WithResults returns a copy with results appended in order.
func (c *Context) WithResults(results ...executor.Result) *Context {
	if len(results) == 0 {
		return c
	}
	out := c.clone()
	out.Results = append(out.Results, results...)
	return out
}

// WithRecentResults appends results and keeps only the newest window of
// them. A window below one keeps everything.
func (c *Context) WithRecentResults(window int, results ...executor.Result) *Context {
	out := c.WithResults(results...)
	if window < 1 || len(out.Results) <= window {
		return out
	}
	if out == c {
		out = c.clone()
	}
	out.Results = slices.Clone(out.Results[len(out.Results)-window:])
	return out
}

// WithFact returns a copy with key set to value. Empty values are ignored.
func (c *Context) WithFact(key, value string, at time.Time) *Context {
	if value == "" {
		return c
	}
	out := c.clone()
	if out.Facts == nil {
		out.Facts = map[string]Fact{}
	}
	out.Facts[key] = Fact{Value: value, UpdatedAt: at}
	return out
}

// WithFacts applies every non-empty entry of facts.
func (c *Context) WithFacts(facts map[string]string, at time.Time) *Context {
	out := c
	for _, k := range slices.Sorted(maps.Keys(facts)) {
		out = out.WithFact(k, facts[k], at)
	}
	return out
}

// WithoutFact returns a copy with key removed.
func (c *Context) WithoutFact(key string) *Context {
	if _, ok := c.Fact(key); !ok {
		return c
	}
	out := c.clone()
	delete(out.Facts, key)
	return out
}

// Fact looks up a workflow fact.
func (c *Context) Fact(key string) (Fact, bool) {
	if c == nil {
		return Fact{}, false
	}
	f, ok := c.Facts[key]
	return f, ok
}

// IsContinuation reports whether the previous turn left a clarification
// question open.
func (c *Context) IsContinuation() bool {
	f, ok := c.Fact(FactPendingClarification)
	return ok && f.Value != ""
}

// RecentMessages returns at most the last n messages.
func (c *Context) RecentMessages(n int) []Message {
	if c == nil || n <= 0 {
		return nil
	}
	if len(c.Messages) <= n {
		return slices.Clone(c.Messages)
	}
	return slices.Clone(c.Messages[len(c.Messages)-n:])
}

// SortedFacts returns fact keys in lexical order with their values.
func (c *Context) SortedFacts() []KeyedFact {
	if c == nil {
		return nil
	}
	out := make([]KeyedFact, 0, len(c.Facts))
	for _, k := range slices.Sorted(maps.Keys(c.Facts)) {
		out = append(out, KeyedFact{Key: k, Fact: c.Facts[k]})
	}
	return out
}

// KeyedFact pairs a fact with its key for ordered rendering.
type KeyedFact struct {
	Key string
	Fact
}
