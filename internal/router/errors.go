package router

import "errors"

var (
	ErrSenderNotConnected = errors.New("sender has no active connection")
	ErrSenderNotInSession = errors.New("sender is not connected to this session")
	ErrRateLimitExceeded  = errors.New("message rate limit exceeded")
	ErrUnknownCommand     = errors.New("unknown command type")
	ErrOwnerOnlyCommand   = errors.New("command is restricted to the session owner")
)
