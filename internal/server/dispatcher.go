package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/Tyrowin/bboard/internal/protocol"
)

// Outcome tells the connection handler what to do after a request.
type Outcome int

const (
	KeepOpen Outcome = iota
	CloseConnection
	StopServer
)

// Dispatcher executes commands against the registry and the group store and
// returns the objects to send back to the requesting client. Notifications
// for other members are produced by the store's observer, not here.
type Dispatcher struct {
	registry *board.Registry
	store    *board.GroupStore
	log      *slog.Logger
}

func NewDispatcher(registry *board.Registry, store *board.GroupStore, log *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, store: store, log: log}
}

// Dispatch handles one command for client id. Errors never escape: they are
// returned as error objects and the connection stays open.
func (d *Dispatcher) Dispatch(id board.ClientID, cmd protocol.Command) ([]any, Outcome) {
	switch c := cmd.(type) {
	case protocol.SetUsername:
		return d.setUsername(id, c), KeepOpen
	case protocol.ListGroups:
		return []any{protocol.NewGroupsResponse(d.store.ListGroups())}, KeepOpen
	case protocol.Join:
		return d.join(id, c), KeepOpen
	case protocol.Post:
		return d.post(id, c), KeepOpen
	case protocol.ListUsers:
		return d.users(id, c), KeepOpen
	case protocol.Leave:
		return d.leave(id, c), KeepOpen
	case protocol.GetMessage:
		return d.getMessage(id, c), KeepOpen
	case protocol.Exit:
		return nil, CloseConnection
	case protocol.Shutdown:
		return []any{protocol.NewInfoWithSubtype(protocol.SubtypeShuttingDown, "Server shutting down.")}, StopServer
	default:
		d.log.Warn("Unhandled command", "client", id, "action", cmd.Action())
		return []any{protocol.NewError(protocol.ErrUnknownAction, fmt.Sprintf("Unknown action: %s", cmd.Action()))}, KeepOpen
	}
}

func (d *Dispatcher) setUsername(id board.ClientID, c protocol.SetUsername) []any {
	if err := d.registry.SetUsername(id, c.Username); err != nil {
		return []any{d.fail(id, c.Action(), err, "", 0)}
	}

	d.log.Info("Username accepted", "client", id, "username", c.Username)
	return []any{
		protocol.NewInfoWithSubtype(protocol.SubtypeUsernameAccepted,
			fmt.Sprintf("Username %s accepted", c.Username)),
		protocol.NewGroupsResponse(d.store.ListGroups()),
	}
}

func (d *Dispatcher) join(id board.ClientID, c protocol.Join) []any {
	name, ok := d.registry.Username(id)
	if !ok {
		return []any{d.fail(id, c.Action(), board.ErrUsernameRequired, c.Group, 0)}
	}

	history, err := d.store.Join(c.Group, name)
	if err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, 0)}
	}
	d.registry.AddGroup(id, c.Group)

	users, err := d.store.ListUsers(c.Group)
	if err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, 0)}
	}
	return []any{
		protocol.NewHistory(c.Group, history),
		protocol.NewUsersResponse(c.Group, users),
	}
}

func (d *Dispatcher) post(id board.ClientID, c protocol.Post) []any {
	name, ok := d.registry.Username(id)
	if !ok {
		return []any{d.fail(id, c.Action(), board.ErrUsernameRequired, c.Group, 0)}
	}

	msg, err := d.store.Post(c.Group, name, c.Subject, c.Body)
	if err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, 0)}
	}
	d.log.Debug("Message posted", "client", id, "group", c.Group, "id", msg.ID)
	return nil
}

func (d *Dispatcher) users(id board.ClientID, c protocol.ListUsers) []any {
	if _, ok := d.registry.Username(id); !ok {
		return []any{d.fail(id, c.Action(), board.ErrUsernameRequired, c.Group, 0)}
	}

	users, err := d.store.ListUsers(c.Group)
	if err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, 0)}
	}
	return []any{protocol.NewUsersResponse(c.Group, users)}
}

func (d *Dispatcher) leave(id board.ClientID, c protocol.Leave) []any {
	name, ok := d.registry.Username(id)
	if !ok {
		return []any{d.fail(id, c.Action(), board.ErrUsernameRequired, c.Group, 0)}
	}

	if _, err := d.store.Leave(c.Group, name); err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, 0)}
	}
	d.registry.RemoveGroup(id, c.Group)
	return nil
}

func (d *Dispatcher) getMessage(id board.ClientID, c protocol.GetMessage) []any {
	if _, ok := d.registry.Username(id); !ok {
		return []any{d.fail(id, c.Action(), board.ErrUsernameRequired, c.Group, 0)}
	}

	msg, err := d.store.GetMessage(c.Group, *c.ID)
	if err != nil {
		return []any{d.fail(id, c.Action(), err, c.Group, *c.ID)}
	}
	return []any{protocol.NewMessageResponse(msg)}
}

// Disconnect removes the client from every group it joined, which
// broadcasts user_left to the remaining members, and then releases its
// username. Leaving first keeps the name reserved until no group lists it.
func (d *Dispatcher) Disconnect(id board.ClientID) string {
	name, named := d.registry.Username(id)
	if named {
		for _, group := range d.registry.Groups(id) {
			if _, err := d.store.Leave(group, name); err != nil {
				d.log.Warn("Error leaving group on disconnect", "client", id, "group", group, "error", err)
			}
		}
	}
	d.registry.Unregister(id)
	return name
}

func (d *Dispatcher) fail(id board.ClientID, action protocol.Action, err error, group string, msgID int64) protocol.Error {
	d.log.Debug("Request failed", "client", id, "action", action, "group", group, "error", err)
	return protocol.NewError(err, describe(err, group, msgID))
}

func describe(err error, group string, msgID int64) string {
	switch {
	case errors.Is(err, board.ErrEmptyUsername):
		return "Username is required"
	case errors.Is(err, board.ErrUsernameTaken):
		return "Username already taken"
	case errors.Is(err, board.ErrUsernameAlreadySet):
		return "Username already set"
	case errors.Is(err, board.ErrUsernameRequired):
		return "Set username first"
	case errors.Is(err, board.ErrUnknownGroup):
		return fmt.Sprintf("Unknown group: %s", group)
	case errors.Is(err, board.ErrNotAMember):
		return fmt.Sprintf("You are not in group %s", group)
	case errors.Is(err, board.ErrMessageNotFound):
		return fmt.Sprintf("No message with ID %d in group %s", msgID, group)
	default:
		return "Internal server error"
	}
}
