package protocol

import (
	"encoding/json"
	"errors"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/samber/lo"
)

// TimestampLayout is the wire format of message timestamps.
const TimestampLayout = "2006-01-02T15:04:05"

const (
	TypeInfo     = "info"
	TypeError    = "error"
	TypeEvent    = "event"
	TypeResponse = "response"
	TypeHistory  = "history"
)

const (
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventNewMessage = "new_message"
)

const (
	SubtypeUsernameAccepted = "username_accepted"
	SubtypeShuttingDown     = "shutting_down"
)

// ErrorCode is the machine-readable kind carried next to the human-readable
// message of an error object.
type ErrorCode string

const (
	CodeInvalidJSON        ErrorCode = "invalid_json"
	CodeMissingAction      ErrorCode = "missing_action"
	CodeUnknownAction      ErrorCode = "unknown_action"
	CodeMissingField       ErrorCode = "missing_field"
	CodeInvalidField       ErrorCode = "invalid_field"
	CodeEmptyUsername      ErrorCode = "empty_username"
	CodeUsernameTaken      ErrorCode = "username_taken"
	CodeUsernameAlreadySet ErrorCode = "username_already_set"
	CodeUsernameRequired   ErrorCode = "username_required"
	CodeUnknownGroup       ErrorCode = "unknown_group"
	CodeNotAMember         ErrorCode = "not_a_member"
	CodeMessageNotFound    ErrorCode = "message_not_found"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeInternal           ErrorCode = "internal"
)

var codes = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidJSON, CodeInvalidJSON},
	{ErrMissingAction, CodeMissingAction},
	{ErrUnknownAction, CodeUnknownAction},
	{ErrMissingField, CodeMissingField},
	{ErrInvalidField, CodeInvalidField},
	{ErrRateLimited, CodeRateLimited},
	{board.ErrEmptyUsername, CodeEmptyUsername},
	{board.ErrUsernameTaken, CodeUsernameTaken},
	{board.ErrUsernameAlreadySet, CodeUsernameAlreadySet},
	{board.ErrUsernameRequired, CodeUsernameRequired},
	{board.ErrUnknownGroup, CodeUnknownGroup},
	{board.ErrNotAMember, CodeNotAMember},
	{board.ErrMessageNotFound, CodeMessageNotFound},
}

// CodeOf maps an error to its wire code.
func CodeOf(err error) ErrorCode {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

type Info struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message string `json:"message"`
}

type Error struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
}

// UserEvent announces a member joining or leaving a group.
type UserEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Group string `json:"group"`
	User  string `json:"user"`
}

// MessageEvent summarizes a new post; the body is fetched with get_message.
type MessageEvent struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Group   string `json:"group"`
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
}

type GroupsResponse struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Groups  []string `json:"groups"`
}

type UsersResponse struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Group   string   `json:"group"`
	Users   []string `json:"users"`
}

type MessageResponse struct {
	Type    string      `json:"type"`
	Command string      `json:"command"`
	Group   string      `json:"group"`
	Message MessageBody `json:"message"`
}

type History struct {
	Type     string        `json:"type"`
	Group    string        `json:"group"`
	Messages []MessageBody `json:"messages"`
}

// MessageBody is the full wire form of a board.Message.
type MessageBody struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Group     string `json:"group"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

func NewInfo(message string) Info {
	return Info{Type: TypeInfo, Message: message}
}

func NewInfoWithSubtype(subtype, message string) Info {
	return Info{Type: TypeInfo, Subtype: subtype, Message: message}
}

// NewError builds an error object whose code is derived from err.
func NewError(err error, message string) Error {
	return Error{Type: TypeError, Message: message, Code: CodeOf(err)}
}

func NewUserJoined(group, user string) UserEvent {
	return UserEvent{Type: TypeEvent, Event: EventUserJoined, Group: group, User: user}
}

func NewUserLeft(group, user string) UserEvent {
	return UserEvent{Type: TypeEvent, Event: EventUserLeft, Group: group, User: user}
}

func NewMessageEvent(m board.Message) MessageEvent {
	return MessageEvent{
		Type:    TypeEvent,
		Event:   EventNewMessage,
		Group:   m.Group,
		ID:      m.ID,
		Sender:  m.Sender,
		Subject: m.Subject,
		Date:    m.CreatedAt.Format(TimestampLayout),
	}
}

func NewGroupsResponse(groups []string) GroupsResponse {
	return GroupsResponse{Type: TypeResponse, Command: "groups", Groups: nonNil(groups)}
}

func NewUsersResponse(group string, users []string) UsersResponse {
	return UsersResponse{Type: TypeResponse, Command: "users", Group: group, Users: nonNil(users)}
}

func NewMessageResponse(m board.Message) MessageResponse {
	return MessageResponse{Type: TypeResponse, Command: "message", Group: m.Group, Message: NewMessageBody(m)}
}

func NewHistory(group string, messages []board.Message) History {
	return History{
		Type:     TypeHistory,
		Group:    group,
		Messages: lo.Map(messages, func(m board.Message, _ int) MessageBody { return NewMessageBody(m) }),
	}
}

func NewMessageBody(m board.Message) MessageBody {
	return MessageBody{
		ID:        m.ID,
		Sender:    m.Sender,
		Group:     m.Group,
		Subject:   m.Subject,
		Body:      m.Body,
		Timestamp: m.CreatedAt.Format(TimestampLayout),
	}
}

// Encode marshals one outbound object. Framing is added by the transport.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
