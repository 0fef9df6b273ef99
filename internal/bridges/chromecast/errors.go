package chromecast

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-cast/internal/cast"
)

// Domain errors for the chromecast bridge package.
var (
	// ErrInvalidMessage is returned when a command or request payload
	// cannot be decoded.
	ErrInvalidMessage = errors.New("chromecast: invalid message")

	// ErrUnknownCommand is returned for commands the bridge does not route.
	ErrUnknownCommand = errors.New("chromecast: unknown command")

	// ErrUnknownAction is returned for request actions the bridge does not serve.
	ErrUnknownAction = errors.New("chromecast: unknown request action")
)

// Error codes carried in failed acks and responses.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNoActiveSession   = "NO_ACTIVE_SESSION"
	ErrCodeUnsupported       = "UNSUPPORTED_COMMAND"
	ErrCodeSuperseded        = "SUPERSEDED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodePrefsUnavailable  = "PREFERENCES_UNAVAILABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps an error onto the code reported to the automation engine.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrUnknownAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, cast.ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, cast.ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, cast.ErrUnsupportedCommand):
		return ErrCodeUnsupported
	case errors.Is(err, cast.ErrNoActiveSession):
		return ErrCodeNoActiveSession
	case errors.Is(err, cast.ErrInvalidURL):
		return ErrCodeInvalidURL
	case errors.Is(err, cast.ErrDebounced):
		return ErrCodeSuperseded
	case errors.Is(err, cast.ErrPrefsUnavailable):
		return ErrCodePrefsUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, cast.ErrConnectionFailed):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}
