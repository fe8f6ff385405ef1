package board

import "errors"

var (
	ErrEmptyUsername      = errors.New("username is required")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUsernameAlreadySet = errors.New("username already set")
	ErrUsernameRequired   = errors.New("set username first")
	ErrUnknownClient      = errors.New("unknown client")
	ErrUnknownGroup       = errors.New("unknown group")
	ErrNotAMember         = errors.New("not a member of group")
	ErrMessageNotFound    = errors.New("message not found")
)
