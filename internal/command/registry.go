// Package command holds the registry the gateway's router stage resolves
// actions against, plus a set of built-in handlers. Handlers never touch
// the wire: they return a value or an error and the router stage turns
// that into bytes.
package command

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// SessionInfo is a read-only snapshot of the authenticated session handed
// to handlers. Handlers never see the live session object, so parallel
// handler execution cannot race session mutation.
type SessionInfo struct {
	ID        string
	Identity  string
	Scopes    []string
	ExpiresAt time.Time
}

// Invocation carries everything a handler may inspect for one request.
type Invocation struct {
	Session    SessionInfo
	Data       json.RawMessage
	RemoteAddr string
}

// HandlerFunc executes a command. Returning (nil, nil) produces an empty
// success response.
type HandlerFunc func(ctx context.Context, inv Invocation) (any, error)

// Command describes one routable action.
type Command struct {
	// RequiredScope, when set, must be granted to the session (or
	// covered by the "*" wildcard) before the handler runs.
	RequiredScope string

	// Terminal commands close the connection after the response is sent.
	Terminal bool

	Handler HandlerFunc
}

// Registry maps action names to commands. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

func (r *Registry) Register(action string, cmd Command) {
	r.mu.Lock()
	r.commands[action] = &cmd
	r.mu.Unlock()
}

// Resolve returns the command for action, or nil when unregistered.
func (r *Registry) Resolve(action string) *Command {
	r.mu.RLock()
	cmd := r.commands[action]
	r.mu.RUnlock()
	return cmd
}

// Actions returns the registered action names in no particular order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}
