// Package mailbox is the station interaction engine.
//
// Each Station owns one button and one light and runs a single-goroutine
// poll loop through the states Idle, Holding, Recording, Authenticating
// and Playing:
//
//   - A press held past the hold threshold opens a recording session.
//     Stations pressed while a session is open join it as recipients.
//   - A press released before the threshold starts PIN entry. Short and
//     long presses spell the secret; the opening tap is its leading "s".
//   - A successful unlock plays the oldest unread message and marks it
//     read.
//
// Recording sessions draw audio from the shared audio.Broadcaster. When
// the initiator releases, the session drains, closes and is handed to
// the Uploader, which persists it for every recipient in the background
// and retries with backoff.
//
// Unread snapshots from the message store arrive on a one-slot channel
// and are applied by the worker itself, so the queue has a single
// writer.
package mailbox
