package router

import "errors"

var (
	ErrRateLimited    = errors.New("command rate limit exceeded")
	ErrUnknownCommand = errors.New("unknown command action")
)
