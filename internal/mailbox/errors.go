package mailbox

import "errors"

var (
	// ErrInvalidSecret is returned for a secret that is empty, does not
	// start with "s", or contains symbols other than "s" and "l".
	ErrInvalidSecret = errors.New("mailbox: invalid secret")

	// ErrInvalidStation is returned when a station config is incomplete.
	ErrInvalidStation = errors.New("mailbox: invalid station")

	// ErrAlreadyStarted is returned by Start on a running station.
	ErrAlreadyStarted = errors.New("mailbox: station already started")

	// ErrUploadNotFound is returned when retrying an unknown failed upload.
	ErrUploadNotFound = errors.New("mailbox: upload not found")
)
