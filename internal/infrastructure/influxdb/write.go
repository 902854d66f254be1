package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRecording = "recording"
	MeasurementPlayback  = "playback"
	MeasurementAuth      = "auth"
	MeasurementUpload    = "upload"
)

// RecordRecording records one finished capture session.
//
// Parameters:
//   - initiator: Mailbox whose hold started the session
//   - recipients: Number of mailboxes that received the message
//   - bytes: Captured PCM size
//   - duration: Captured audio length
func (c *Client) RecordRecording(initiator string, recipients, bytes int, duration time.Duration) {
	c.write(recordingPoint(c.host, initiator, recipients, bytes, duration, time.Now()))
}

// RecordPlayback records one message played on a mailbox.
func (c *Client) RecordPlayback(mailbox string, duration time.Duration) {
	c.write(playbackPoint(c.host, mailbox, duration, time.Now()))
}

// RecordAuth records the outcome of a PIN attempt. cached is true when the
// unlock window short-circuited entry.
func (c *Client) RecordAuth(mailbox string, ok, cached bool) {
	c.write(authPoint(c.host, mailbox, ok, cached, time.Now()))
}

// RecordUpload records an upload outcome after attempts tries.
func (c *Client) RecordUpload(recording string, ok bool, attempts int) {
	c.write(uploadPoint(c.host, recording, ok, attempts, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func recordingPoint(host, initiator string, recipients, bytes int, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRecording,
		map[string]string{"host": host, "initiator": initiator},
		map[string]interface{}{
			"recipients":       recipients,
			"bytes":            bytes,
			"duration_seconds": duration.Seconds(),
		},
		ts,
	)
}

func playbackPoint(host, mailbox string, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPlayback,
		map[string]string{"host": host, "mailbox": mailbox},
		map[string]interface{}{"duration_seconds": duration.Seconds()},
		ts,
	)
}

func authPoint(host, mailbox string, ok, cached bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuth,
		map[string]string{"host": host, "mailbox": mailbox},
		map[string]interface{}{"ok": ok, "cached": cached},
		ts,
	)
}

// recording ids are unique per session, so they are fields, not tags.
func uploadPoint(host, recording string, ok bool, attempts int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementUpload,
		map[string]string{"host": host},
		map[string]interface{}{"ok": ok, "attempts": attempts, "recording": recording},
		ts,
	)
}
