package board

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	// PublicGroup is the well-known group every deployment has.
	PublicGroup = "public"
	// DefaultHistoryTail is the number of messages replayed on join.
	DefaultHistoryTail = 2
)

// DefaultGroups are the predefined groups created next to PublicGroup.
var DefaultGroups = []string{"group1", "group2", "group3", "group4", "group5"}

// CommitKind tells which mutation a Commit describes.
type CommitKind int

const (
	Joined CommitKind = iota + 1
	Left
	Posted
)

func (k CommitKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Left:
		return "left"
	case Posted:
		return "posted"
	default:
		return "unknown"
	}
}

// Commit describes one state change of a group. Members is the sorted member
// set right after the change.
type Commit struct {
	Kind    CommitKind
	Group   string
	User    string
	Message Message
	Members []string
}

// Observer receives every commit while the store lock is held. It must not
// block and must not call back into the store.
type Observer func(Commit)

type group struct {
	members map[string]struct{}
	history []Message
	index   map[int64]int
}

// GroupStore owns the fixed set of groups, their member sets and message
// histories, and the global message ID counter.
type GroupStore struct {
	mu          sync.Mutex
	groups      map[string]*group
	nextID      int64
	historyTail int
	observer    Observer
	now         func() time.Time
}

// StoreOption customizes a GroupStore.
type StoreOption func(*GroupStore)

// WithObserver installs the commit observer.
func WithObserver(o Observer) StoreOption {
	return func(s *GroupStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithHistoryTail sets how many messages Join returns.
func WithHistoryTail(n int) StoreOption {
	return func(s *GroupStore) {
		if n >= 0 {
			s.historyTail = n
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *GroupStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGroupStore creates the store with PublicGroup plus the given group
// names. Blank and duplicate names are ignored.
func NewGroupStore(names []string, opts ...StoreOption) *GroupStore {
	s := &GroupStore{
		groups:      make(map[string]*group, len(names)+1),
		nextID:      1,
		historyTail: DefaultHistoryTail,
		observer:    func(Commit) {},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range append([]string{PublicGroup}, names...) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, exists := s.groups[name]; exists {
			continue
		}
		s.groups[name] = &group{
			members: make(map[string]struct{}),
			index:   make(map[int64]int),
		}
	}
	return s
}

// ListGroups returns all group names in lexicographic order.
func (s *GroupStore) ListGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := lo.Keys(s.groups)
	slices.Sort(names)
	return names
}

// Join adds username to the group and returns the history tail, oldest
// first. Joining a group twice only returns the history again.
func (s *GroupStore) Join(name, username string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return nil, ErrUnknownGroup
	}

	if _, member := g.members[username]; !member {
		g.members[username] = struct{}{}
		s.observer(Commit{
			Kind:    Joined,
			Group:   name,
			User:    username,
			Members: sortedKeys(g.members),
		})
	}

	start := max(len(g.history)-s.historyTail, 0)
	return slices.Clone(g.history[start:]), nil
}

// Leave removes username from the group. It reports whether the user was a
// member; leaving a group one is not in is not an error.
func (s *GroupStore) Leave(name, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return false, ErrUnknownGroup
	}
	if _, member := g.members[username]; !member {
		return false, nil
	}

	delete(g.members, username)
	s.observer(Commit{
		Kind:    Left,
		Group:   name,
		User:    username,
		Members: sortedKeys(g.members),
	})
	return true, nil
}

// ListUsers returns the sorted members of the group.
func (s *GroupStore) ListUsers(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return nil, ErrUnknownGroup
	}
	return sortedKeys(g.members), nil
}

// Post appends a message to the group. The ID comes from a counter shared
// by all groups and is allocated in the same critical section as the
// append, so IDs follow the commit order of every post on the server.
func (s *GroupStore) Post(name, username, subject, body string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return Message{}, ErrUnknownGroup
	}
	if _, member := g.members[username]; !member {
		return Message{}, ErrNotAMember
	}

	msg := Message{
		ID:        s.nextID,
		Sender:    username,
		Group:     name,
		Subject:   subject,
		Body:      body,
		CreatedAt: s.now().Truncate(time.Second),
	}
	s.nextID++

	g.index[msg.ID] = len(g.history)
	g.history = append(g.history, msg)

	s.observer(Commit{
		Kind:    Posted,
		Group:   name,
		User:    username,
		Message: msg,
		Members: sortedKeys(g.members),
	})
	return msg, nil
}

// GetMessage looks a message up by ID within one group.
func (s *GroupStore) GetMessage(name string, id int64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return Message{}, ErrUnknownGroup
	}
	pos, ok := g.index[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return g.history[pos], nil
}
