package command

import "errors"

// Process exit codes for a finished Run.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitDeviceNotFound = 2
	ExitSessionTimeout = 3
	ExitSendFailure    = 4
)

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrDeviceNotFound):
		return ExitDeviceNotFound
	case errors.Is(err, ErrSessionTimeout):
		return ExitSessionTimeout
	case errors.Is(err, ErrSendFailure):
		return ExitSendFailure
	default:
		return ExitFailure
	}
}

// Describe returns a short label for err, used as a log field and metric
// label.
func Describe(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, ErrSessionTimeout):
		return "session_timeout"
	case errors.Is(err, ErrSendFailure):
		return "send_failure"
	case errors.Is(err, ErrCommandFailure):
		return "command_failure"
	default:
		return "error"
	}
}
