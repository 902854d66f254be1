package messages

import "errors"

// Domain errors for the messages package.
var (
	// ErrMessageNotFound is returned when a message ID does not exist.
	ErrMessageNotFound = errors.New("messages: not found")

	// ErrAudioNotFound is returned when an audio ID does not exist.
	ErrAudioNotFound = errors.New("messages: audio not found")

	// ErrNoRecipients is returned when delivering a clip to nobody.
	ErrNoRecipients = errors.New("messages: no recipients")

	// ErrAlreadyDelivered is returned by Deliver, together with the
	// existing messages, when the clip ID is already stored.
	ErrAlreadyDelivered = errors.New("messages: clip already delivered")

	// ErrInvalidClip is returned when a clip is missing its host or format.
	ErrInvalidClip = errors.New("messages: invalid clip")
)
