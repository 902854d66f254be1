package audio

import "errors"

var (
	// ErrUnknownFormat is returned for a format tag this build cannot play.
	ErrUnknownFormat = errors.New("audio: unknown format")

	// ErrUnknownEncoding is returned for a blob encoding other than raw or zstd.
	ErrUnknownEncoding = errors.New("audio: unknown encoding")

	// ErrCaptureStopped is returned when the capture command gave up restarting.
	ErrCaptureStopped = errors.New("audio: capture stopped")
)
