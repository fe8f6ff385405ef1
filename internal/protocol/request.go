// Package protocol defines the newline-delimited JSON wire format of the
// bulletin board: requests decoded into one Go type per action, and the
// info, error, event, response and history objects sent back.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/go-playground/validator/v10"
)

// Action names a request kind.
type Action string

const (
	ActionSetUsername Action = "set_username"
	ActionGroups      Action = "groups"
	ActionJoin        Action = "join"
	ActionPost        Action = "post"
	ActionUsers       Action = "users"
	ActionLeave       Action = "leave"
	ActionGetMessage  Action = "get_message"
	ActionExit        Action = "exit"
	ActionShutdown    Action = "shutdown"
)

// Command is a validated request.
type Command interface {
	Action() Action
}

type SetUsername struct {
	Username string `json:"username" validate:"required"`
}

type ListGroups struct{}

type Join struct {
	Group string `json:"group"`
}

type Post struct {
	Group   string `json:"group"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ListUsers struct {
	Group string `json:"group"`
}

type Leave struct {
	Group string `json:"group"`
}

type GetMessage struct {
	Group string `json:"group"`
	ID    *int64 `json:"id" validate:"required"`
}

type Exit struct{}

type Shutdown struct{}

func (SetUsername) Action() Action { return ActionSetUsername }
func (ListGroups) Action() Action  { return ActionGroups }
func (Join) Action() Action        { return ActionJoin }
func (Post) Action() Action        { return ActionPost }
func (ListUsers) Action() Action   { return ActionUsers }
func (Leave) Action() Action       { return ActionLeave }
func (GetMessage) Action() Action  { return ActionGetMessage }
func (Exit) Action() Action        { return ActionExit }
func (Shutdown) Action() Action    { return ActionShutdown }

var (
	ErrInvalidJSON   = errors.New("invalid JSON")
	ErrMissingAction = errors.New("missing action")
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingField  = errors.New("missing field")
	ErrInvalidField  = errors.New("invalid field")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// RequestError explains why a frame could not be turned into a Command.
type RequestError struct {
	Kind  error
	Field string
	Value string
}

func (e *RequestError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Field)
	case e.Value != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Value)
	default:
		return e.Kind.Error()
	}
}

func (e *RequestError) Unwrap() error { return e.Kind }

// envelope is the untyped shape of every request line.
type envelope struct {
	Action   *string    `json:"action"`
	Username string     `json:"username"`
	Group    *string    `json:"group"`
	Subject  string     `json:"subject"`
	Body     string     `json:"body"`
	ID       *messageID `json:"id"`
}

// messageID accepts both 7 and "7".
type messageID int64

func (m *messageID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return &RequestError{Kind: ErrInvalidField, Field: "id"}
	}
	*m = messageID(id)
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Decode parses one request line and validates the fields its action needs.
// A missing group defaults to board.PublicGroup; any other group name,
// empty included, is resolved by the group store.
func Decode(frame []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(frame), &env); err != nil {
		return nil, decodeError(err)
	}
	if env.Action == nil || *env.Action == "" {
		return nil, &RequestError{Kind: ErrMissingAction}
	}

	group := board.PublicGroup
	if env.Group != nil {
		group = *env.Group
	}

	var cmd Command
	switch action := Action(*env.Action); action {
	case ActionSetUsername:
		cmd = SetUsername{Username: strings.TrimSpace(env.Username)}
	case ActionGroups:
		cmd = ListGroups{}
	case ActionJoin:
		cmd = Join{Group: group}
	case ActionPost:
		cmd = Post{Group: group, Subject: env.Subject, Body: env.Body}
	case ActionUsers:
		cmd = ListUsers{Group: group}
	case ActionLeave:
		cmd = Leave{Group: group}
	case ActionGetMessage:
		get := GetMessage{Group: group}
		if env.ID != nil {
			id := int64(*env.ID)
			get.ID = &id
		}
		cmd = get
	case ActionExit:
		cmd = Exit{}
	case ActionShutdown:
		cmd = Shutdown{}
	default:
		return nil, &RequestError{Kind: ErrUnknownAction, Value: string(action)}
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, validationError(cmd, err)
	}
	return cmd, nil
}

func decodeError(err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &RequestError{Kind: ErrInvalidField, Field: typeErr.Field}
	}
	return &RequestError{Kind: ErrInvalidJSON}
}

func validationError(cmd Command, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &RequestError{Kind: ErrInvalidField}
	}

	fe := fieldErrs[0]
	if fe.Tag() != "required" {
		return &RequestError{Kind: ErrInvalidField, Field: fe.Field()}
	}
	if _, ok := cmd.(SetUsername); ok {
		return &RequestError{Kind: board.ErrEmptyUsername, Field: fe.Field()}
	}
	return &RequestError{Kind: ErrMissingField, Field: fe.Field()}
}

// NewRequestError turns a Decode failure into the error object sent back to
// the client.
func NewRequestError(err error) Error {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return NewError(err, "Invalid request")
	}

	switch {
	case errors.Is(err, ErrInvalidJSON):
		return NewError(err, "Invalid JSON")
	case errors.Is(err, ErrMissingAction):
		return NewError(err, "Missing action")
	case errors.Is(err, ErrUnknownAction):
		return NewError(err, fmt.Sprintf("Unknown action: %s", reqErr.Value))
	case errors.Is(err, board.ErrEmptyUsername):
		return NewError(err, "Username is required")
	case errors.Is(err, ErrMissingField) && reqErr.Field == "id":
		return NewError(err, "Message ID required")
	case errors.Is(err, ErrMissingField):
		return NewError(err, fmt.Sprintf("Missing field: %s", reqErr.Field))
	case reqErr.Field != "":
		return NewError(err, fmt.Sprintf("Invalid value for field: %s", reqErr.Field))
	default:
		return NewError(err, "Invalid request")
	}
}
