package command

import "errors"

var (
	ErrDeviceNotFound = errors.New("command: device not found")
	ErrSessionTimeout = errors.New("command: session setup timeout")
	ErrSendFailure    = errors.New("command: send failure")
	ErrCommandFailure = errors.New("command: internal error")
)
