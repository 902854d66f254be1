package audit

import (
	"github.com/nerrad567/transponder/internal/directory"
	"github.com/nerrad567/transponder/internal/mailbox"
)

// RosterChanged records the outcome of a directory event. It matches
// directory.Directory.SetOnApplied.
func (r *Recorder) RosterChanged(ev directory.Event, err error) {
	e := Entry{MailboxID: ev.ID, Source: SourceDirectory}
	switch {
	case err != nil:
		e.Action = ActionMailboxFailed
		e.Details = map[string]any{"event": string(ev.Type), "error": err.Error()}
	case ev.Type == directory.EventAdded:
		e.Action = ActionMailboxAdded
	case ev.Type == directory.EventModified:
		e.Action = ActionMailboxModified
	case ev.Type == directory.EventRemoved:
		e.Action = ActionMailboxRemoved
	default:
		return
	}
	if err == nil && ev.Type != directory.EventRemoved {
		e.Details = map[string]any{
			"led_index":  ev.Station.LEDIndex,
			"button_pin": ev.Station.ButtonPin,
		}
	}
	r.Record(e)
}

// UploadFailed records a recording that exhausted its delivery attempts.
func (r *Recorder) UploadFailed(f mailbox.FailedUpload) {
	r.Record(Entry{
		Action:    ActionUploadFailed,
		MailboxID: f.Recording.Initiator,
		Source:    SourceUploader,
		Details: map[string]any{
			"recording_id": f.Recording.ID,
			"recipients":   f.Recording.Recipients,
			"bytes":        f.Bytes,
			"attempts":     f.Attempts,
			"error":        f.LastError,
		},
	})
}

// UploadRetried records an operator retry of a failed recording.
func (r *Recorder) UploadRetried(id, subject string, err error) {
	details := map[string]any{"recording_id": id, "delivered": err == nil}
	if err != nil {
		details["error"] = err.Error()
	}
	r.Record(Entry{
		Action:  ActionUploadRetried,
		Subject: subject,
		Source:  SourceAPI,
		Details: details,
	})
}

// VersionChanged records a change in the latest available build.
func (r *Recorder) VersionChanged(running, latest string) {
	r.Record(Entry{
		Action:  ActionVersionChanged,
		Source:  SourceOTA,
		Details: map[string]any{"running": running, "latest": latest},
	})
}
