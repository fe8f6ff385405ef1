package board

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ClientID identifies one live connection.
type ClientID string

// Deliverer is the outbound side of a connected client.
//
//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=mocks/mock_deliverer.go -package=mocks
type Deliverer interface {
	// Deliver queues one encoded frame for the client. It must not block and
	// reports whether the frame was accepted.
	Deliver(frame []byte) bool
}

type client struct {
	username string
	groups   map[string]struct{}
	out      Deliverer
}

// Registry maps connected clients to their username and joined groups and
// enforces username uniqueness.
type Registry struct {
	mu      sync.Mutex
	clients map[ClientID]*client
	names   map[string]ClientID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[ClientID]*client),
		names:   make(map[string]ClientID),
	}
}

// Register adds a client without a username and returns its identifier.
func (r *Registry) Register(out Deliverer) ClientID {
	id := ClientID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[id] = &client{
		groups: make(map[string]struct{}),
		out:    out,
	}
	return id
}

// SetUsername binds name to the client. The uniqueness check and the binding
// happen in one critical section.
func (r *Registry) SetUsername(id ClientID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return ErrUnknownClient
	}
	if c.username != "" {
		return ErrUsernameAlreadySet
	}
	if _, taken := r.names[name]; taken {
		return ErrUsernameTaken
	}

	c.username = name
	r.names[name] = id
	return nil
}

// Username returns the name bound to the client, if any.
func (r *Registry) Username(id ClientID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok || c.username == "" {
		return "", false
	}
	return c.username, true
}

// AddGroup records that the client joined group.
func (r *Registry) AddGroup(id ClientID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[id]; ok {
		c.groups[group] = struct{}{}
	}
}

// RemoveGroup records that the client left group.
func (r *Registry) RemoveGroup(id ClientID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[id]; ok {
		delete(c.groups, group)
	}
}

// Groups returns the sorted names of the groups the client has joined.
func (r *Registry) Groups(id ClientID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	return sortedKeys(c.groups)
}

// Unregister removes the client and its username binding and returns the
// username it held and the groups it had joined. Calling it again for the
// same client returns zero values.
func (r *Registry) Unregister(id ClientID) (string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return "", nil
	}
	delete(r.clients, id)
	if c.username != "" && r.names[c.username] == id {
		delete(r.names, c.username)
	}
	return c.username, sortedKeys(c.groups)
}

// Resolve maps usernames to the deliverers of their live clients. Names
// without a connected client and the excluded name are skipped.
func (r *Registry) Resolve(usernames []string, exclude string) []Deliverer {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.FilterMap(usernames, func(name string, _ int) (Deliverer, bool) {
		if exclude != "" && name == exclude {
			return nil, false
		}
		id, ok := r.names[name]
		if !ok {
			return nil, false
		}
		c, ok := r.clients[id]
		if !ok {
			return nil, false
		}
		return c.out, true
	})
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := lo.Keys(set)
	slices.Sort(keys)
	return keys
}
