package cast

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-cast/internal/debounce"
)

// Domain errors for the cast package.
//
// Controller commands always return errors that match one of these under
// errors.Is, so callers never see raw transport failures.
var (
	// ErrUnknownDevice is returned when a device id never resolved from discovery.
	ErrUnknownDevice = errors.New("cast: unknown device")

	// ErrConnectionFailed is returned when connect, launch or join fails.
	ErrConnectionFailed = errors.New("cast: connection failed")

	// ErrNoActiveSession is returned when no matching receiver application is running.
	ErrNoActiveSession = errors.New("cast: no active session")

	// ErrInvalidURL is returned when a content probe fails or is not HTTP 200.
	ErrInvalidURL = errors.New("cast: invalid url")

	// ErrDebounced is returned to a caller superseded by a newer request.
	ErrDebounced = debounce.ErrDebounced

	// ErrUnsupportedCommand is returned when the device class cannot run a command.
	ErrUnsupportedCommand = errors.New("cast: command not supported by device class")

	// ErrInvalidAdvertisement is returned by Upsert when id, md or fn is missing
	// or the id is not 32 characters once separators are removed.
	ErrInvalidAdvertisement = errors.New("cast: invalid advertisement")

	// ErrFiltered is returned by Upsert when no device class accepts the model.
	ErrFiltered = errors.New("cast: advertisement filtered")

	// ErrInvalidParameters is returned by Execute for malformed command parameters.
	ErrInvalidParameters = errors.New("cast: invalid parameters")

	// ErrPrefsUnavailable is returned when a playback preference cannot be saved.
	ErrPrefsUnavailable = errors.New("cast: preferences unavailable")

	// ErrClosed is returned after the manager has been shut down.
	ErrClosed = errors.New("cast: closed")
)

// RequestError is an error reply from the receiver, such as LOAD_FAILED.
type RequestError struct {
	Namespace string
	Type      string
	Reason    string
}

func (e *RequestError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cast: %s on %s: %s", e.Type, e.Namespace, e.Reason)
	}
	return fmt.Sprintf("cast: %s on %s", e.Type, e.Namespace)
}

// domainKinds lists the sentinels that already classify an error.
var domainKinds = []error{
	ErrUnknownDevice,
	ErrConnectionFailed,
	ErrNoActiveSession,
	ErrInvalidURL,
	ErrDebounced,
	ErrUnsupportedCommand,
	ErrInvalidParameters,
	ErrPrefsUnavailable,
}

// classify maps err onto a domain error kind. Errors that already carry a
// kind pass through unchanged; anything else is a transport failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range domainKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}
