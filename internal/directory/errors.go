package directory

import "errors"

var (
	// ErrUnknownEvent is returned for an event type other than ADDED,
	// MODIFIED or REMOVED.
	ErrUnknownEvent = errors.New("directory: unknown event type")

	// ErrMissingID is returned for an event without a station ID.
	ErrMissingID = errors.New("directory: missing station id")
)
