package messages

import (
	"context"
	"time"

	"github.com/nerrad567/transponder/internal/audio"
)

// Message is one entry in a mailbox queue.
type Message struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	MailboxID string     `json:"mailbox_id"`
	AudioID   string     `json:"audio_id"`
	Host      string     `json:"host"`
	Unread    bool       `json:"unread"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Clip is a captured recording.
type Clip struct {
	ID        string
	Host      string
	Format    audio.Format
	PCM       []byte
	CreatedAt time.Time
}

// Duration returns the clip's play time.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// Repository persists clips and mailbox queues.
type Repository interface {
	// Deliver stores clip and appends one unread message per recipient,
	// atomically. Duplicate recipients receive one message. A clip ID that
	// is already stored returns its messages with ErrAlreadyDelivered.
	Deliver(ctx context.Context, clip Clip, recipients []string) ([]Message, error)

	// Unread returns a mailbox's unread messages, oldest first.
	Unread(ctx context.Context, mailboxID string) ([]Message, error)

	// UnreadCounts returns unread totals for every mailbox that has any.
	UnreadCounts(ctx context.Context) (map[string]int, error)

	// Get returns one message by ID.
	Get(ctx context.Context, messageID string) (Message, error)

	// MarkRead flips a message to read. Marking a read message again is a no-op.
	MarkRead(ctx context.Context, messageID string) error

	// Clip loads and decodes an audio blob.
	Clip(ctx context.Context, audioID string) (Clip, error)

	// History returns a mailbox's messages, newest first.
	History(ctx context.Context, mailboxID string, limit int) ([]Message, error)
}
