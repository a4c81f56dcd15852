package hub

import "errors"

var (
	ErrHubAlreadyRunning  = errors.New("hub already running")
	ErrHubNotRunning      = errors.New("hub not running")
	ErrCommandChannelFull = errors.New("command channel full")
	ErrJoinChannelFull    = errors.New("join channel full")
)
