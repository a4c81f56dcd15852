package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrInvalidJSON      = errors.New("failed to marshal message")

	ErrNilConnection    = errors.New("connection is nil")
	ErrNotAuthenticated = errors.New("connection not authenticated")
)
