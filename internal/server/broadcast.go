// Package server fans group events out to the live members of a group.
package server

import (
	"log/slog"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/Tyrowin/bboard/internal/protocol"
)

// Broadcaster turns group store commits into events and queues them on the
// members' connections.
//
// Publish runs while the store lock is held, so events of one group are
// queued in commit order. Queueing never blocks: a member whose queue is
// full is evicted and a member that has already disconnected is skipped.
type Broadcaster struct {
	registry *board.Registry
	log      *slog.Logger
}

func NewBroadcaster(registry *board.Registry, log *slog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// Publish is the board.Observer of the group store. Joins and leaves are not
// echoed to the user who caused them; posts go to every member, the poster
// included.
func (b *Broadcaster) Publish(c board.Commit) {
	switch c.Kind {
	case board.Joined:
		b.Broadcast(c.Group, c.Members, protocol.NewUserJoined(c.Group, c.User), c.User)
	case board.Left:
		b.Broadcast(c.Group, c.Members, protocol.NewUserLeft(c.Group, c.User), c.User)
	case board.Posted:
		b.Broadcast(c.Group, c.Members, protocol.NewMessageEvent(c.Message), "")
	default:
		b.log.Warn("Ignoring unknown commit", "kind", c.Kind, "group", c.Group)
	}
}

// Broadcast delivers event to the given members of group, skipping exclude.
// It returns the number of members the event was queued for.
func (b *Broadcaster) Broadcast(group string, members []string, event any, exclude string) int {
	frame, err := protocol.Encode(event)
	if err != nil {
		b.log.Error("Error encoding event", "group", group, "error", err)
		return 0
	}

	targets := b.registry.Resolve(members, exclude)
	delivered := 0
	for _, target := range targets {
		if target.Deliver(frame) {
			delivered++
		}
	}

	if delivered < len(targets) {
		b.log.Warn("Event not delivered to every member", "group", group, "targets", len(targets), "delivered", delivered)
	} else {
		b.log.Debug("Broadcasting event", "group", group, "targets", len(targets))
	}
	return delivered
}
