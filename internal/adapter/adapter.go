// Package adapter defines the external contract to a pluggable large-language-model
// backend and the concrete backends the core ships with.
package adapter

import (
	"context"
	"fmt"
	"sync"
)

// ChatMessage is one turn in a chat-style exchange.
type ChatMessage struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// ToolSpec describes a tool the model may call during chatWithTools.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// Result is the common response shape for every Adapter call: content plus
// token accounting, per the external contract in the system overview.
type Result struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
	ToolCalls    []ToolCall
}

// Adapter is the external contract every language-model backend satisfies.
// Exposes generate, chat, and optionally chatWithTools; reports availability
// so callers can fail fast rather than dispatch into a backend with no
// credentials configured.
type Adapter interface {
	// Generate produces a single completion for a prompt.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error)
	// Chat carries on a multi-turn exchange.
	Chat(ctx context.Context, messages []ChatMessage) (*Result, error)
	// ChatWithTools extends Chat with tool-calling support. Backends that do
	// not support tool calls return an error whose message says so; this is
	// optional per the system overview, not every backend need implement it.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolSpec) (*Result, error)
	// Available reports whether this backend is usable with its current configuration.
	Available() bool
	// Name identifies the backend for logging and worker records.
	Name() string
}

// Registry is the explicit, program-start-constructed replacement for the
// source's process-wide adapter singleton (Design Notes §9): callers build
// one Registry, register each backend once, and inject the Registry into
// Manager/Merger/Decomposer rather than reaching for ambient global state.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	def      string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a named adapter. The first adapter registered becomes the
// default unless SetDefault is called explicitly afterwards.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
	if r.def == "" {
		r.def = name
	}
}

// SetDefault designates which registered adapter Default() returns.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("adapter %q is not registered", name)
	}
	r.def = name
	return nil
}

// Get returns the named adapter, or an error if it is not registered.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q is not registered", name)
	}
	return a, nil
}

// Default returns the registry's default adapter, or an error if none is registered.
func (r *Registry) Default() (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.def == "" {
		return nil, fmt.Errorf("no default adapter registered")
	}
	return r.adapters[r.def], nil
}

// Names returns every registered adapter name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
