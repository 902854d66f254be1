package mailbox

import "time"

// Metrics receives interaction telemetry. influxdb.Client implements it.
type Metrics interface {
	RecordRecording(initiator string, recipients, bytes int, duration time.Duration)
	RecordPlayback(mailbox string, duration time.Duration)
	RecordAuth(mailbox string, ok, cached bool)
	RecordUpload(recording string, ok bool, attempts int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRecording(string, int, int, time.Duration) {}
func (NopMetrics) RecordPlayback(string, time.Duration)            {}
func (NopMetrics) RecordAuth(string, bool, bool)                   {}
func (NopMetrics) RecordUpload(string, bool, int)                  {}

// Logger defines the logging interface for stations and uploads.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
