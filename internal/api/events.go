package api

import (
	"github.com/nerrad567/transponder/internal/mailbox"
	"github.com/nerrad567/transponder/internal/messages"
)

// Event channels a WebSocket client can subscribe to.
const (
	EventStationStateChanged = "station.state_changed"
	EventMessageDelivered    = "message.delivered"
	EventUploadFailed        = "upload.failed"
	EventVersionChanged      = "version.changed"
)

// StationStateEvent is the payload of station.state_changed.
type StationStateEvent struct {
	MailboxID string        `json:"mailbox_id"`
	State     mailbox.State `json:"state"`
}

// UploadFailedEvent is the payload of upload.failed. PCM is never sent.
type UploadFailedEvent struct {
	ID         string   `json:"id"`
	Initiator  string   `json:"initiator"`
	Recipients []string `json:"recipients"`
	Bytes      int      `json:"bytes"`
	Attempts   int      `json:"attempts"`
	LastError  string   `json:"last_error"`
}

// VersionEvent is the payload of version.changed.
type VersionEvent struct {
	Running string `json:"running"`
	Latest  string `json:"latest"`
}

// StationStateChanged broadcasts a station transition.
// Its signature matches mailbox.Deps.OnStateChange.
func (h *Hub) StationStateChanged(id string, state mailbox.State) {
	h.Broadcast(EventStationStateChanged, []string{id}, StationStateEvent{MailboxID: id, State: state})
}

// MessageDelivered broadcasts a committed delivery.
// Its signature matches messages.DeliverFunc.
func (h *Hub) MessageDelivered(msg messages.Message) {
	h.Broadcast(EventMessageDelivered, []string{msg.MailboxID}, msg)
}

// UploadFailed broadcasts an upload that exhausted its retries.
func (h *Hub) UploadFailed(f mailbox.FailedUpload) {
	involved := append([]string{f.Recording.Initiator}, f.Recording.Recipients...)
	h.Broadcast(EventUploadFailed, involved, UploadFailedEvent{
		ID:         f.Recording.ID,
		Initiator:  f.Recording.Initiator,
		Recipients: f.Recording.Recipients,
		Bytes:      f.Bytes,
		Attempts:   f.Attempts,
		LastError:  f.LastError,
	})
}

// VersionChanged broadcasts a newly published version.
func (h *Hub) VersionChanged(running, latest string) {
	h.Broadcast(EventVersionChanged, nil, VersionEvent{Running: running, Latest: latest})
}
