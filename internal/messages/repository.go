package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/infrastructure/database"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

const messageColumns = `seq, id, mailbox_id, audio_id, host, unread, created_at, read_at`

// SQLiteRepository implements Repository on the message store schema.
type SQLiteRepository struct {
	db       *database.DB
	encoding string
	now      func() time.Time
}

// NewSQLiteRepository creates a repository that stores new blobs in the
// given encoding (audio.EncodingRaw or audio.EncodingZstd). Existing rows
// are decoded by their own encoding column, so switching is safe.
//
// Parameters:
//   - db: Migrated database
//   - encoding: Blob encoding for new clips
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *database.DB, encoding string) *SQLiteRepository {
	if encoding == "" {
		encoding = audio.EncodingRaw
	}
	return &SQLiteRepository{
		db:       db,
		encoding: encoding,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Deliver stores clip and enqueues it for every distinct recipient in one
// transaction. Missing clip IDs and timestamps are filled in.
//
// Delivery is keyed by clip ID: a clip that is already stored is not
// enqueued again, so a retry after an ambiguous failure is safe.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - clip: Recording to store
//   - recipients: Mailbox IDs, in delivery order
//
// Returns:
//   - []Message: One message per distinct recipient, or the messages of
//     the earlier delivery alongside ErrAlreadyDelivered
//   - error: ErrNoRecipients, ErrInvalidClip, ErrAlreadyDelivered, or a
//     database error
func (r *SQLiteRepository) Deliver(ctx context.Context, clip Clip, recipients []string) ([]Message, error) {
	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if clip.Host == "" || clip.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: host and format are required", ErrInvalidClip)
	}
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = r.now()
	}

	pcm := clip.PCM
	if pcm == nil {
		pcm = []byte{}
	}
	blob, err := audio.Encode(r.encoding, pcm)
	if err != nil {
		return nil, err
	}

	created := clip.CreatedAt.UTC().Format(time.RFC3339Nano)
	delivered := make([]Message, 0, len(recipients))
	duplicate := false

	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO audio (id, host, format, encoding, samples, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			clip.ID, clip.Host, clip.Format.Tag(), r.encoding, blob, created,
		)
		if err != nil {
			return fmt.Errorf("inserting audio: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading audio insert result: %w", err)
		}
		if n == 0 {
			duplicate = true
			rows, err := tx.QueryContext(ctx,
				`SELECT `+messageColumns+` FROM messages WHERE audio_id = ? ORDER BY seq ASC`,
				clip.ID,
			)
			if err != nil {
				return fmt.Errorf("querying delivered messages: %w", err)
			}
			delivered, err = scanMessages(rows)
			return err
		}

		for _, mailboxID := range recipients {
			msg := Message{
				ID:        uuid.NewString(),
				MailboxID: mailboxID,
				AudioID:   clip.ID,
				Host:      clip.Host,
				Unread:    true,
				CreatedAt: clip.CreatedAt.UTC(),
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO messages (id, mailbox_id, audio_id, host, unread, created_at)
				 VALUES (?, ?, ?, ?, 1, ?)`,
				msg.ID, msg.MailboxID, msg.AudioID, msg.Host, created,
			)
			if err != nil {
				return fmt.Errorf("inserting message for %s: %w", mailboxID, err)
			}
			if msg.Seq, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("reading message seq: %w", err)
			}
			delivered = append(delivered, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicate {
		return delivered, fmt.Errorf("%w: %s", ErrAlreadyDelivered, clip.ID)
	}
	return delivered, nil
}

// Unread returns a mailbox's unread messages, oldest first.
func (r *SQLiteRepository) Unread(ctx context.Context, mailboxID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE mailbox_id = ? AND unread = 1
		 ORDER BY seq ASC`,
		mailboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	return scanMessages(rows)
}

// UnreadCounts returns unread totals keyed by mailbox ID.
func (r *SQLiteRepository) UnreadCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT mailbox_id, COUNT(*) FROM messages WHERE unread = 1 GROUP BY mailbox_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread counts: %w", err)
	}
	return counts, nil
}

// Get returns a message by ID.
func (r *SQLiteRepository) Get(ctx context.Context, messageID string) (Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`,
		messageID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("querying message: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrMessageNotFound
	}
	return msgs[0], nil
}

// MarkRead sets unread to false. The first read time is kept.
func (r *SQLiteRepository) MarkRead(ctx context.Context, messageID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET unread = 0, read_at = COALESCE(read_at, ?) WHERE id = ?`,
		r.now().Format(time.RFC3339Nano), messageID,
	)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Clip loads and decodes an audio blob.
func (r *SQLiteRepository) Clip(ctx context.Context, audioID string) (Clip, error) {
	var (
		clip              Clip
		tag, enc, created string
		blob              []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, host, format, encoding, samples, created_at FROM audio WHERE id = ?`,
		audioID,
	).Scan(&clip.ID, &clip.Host, &tag, &enc, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Clip{}, ErrAudioNotFound
	}
	if err != nil {
		return Clip{}, fmt.Errorf("querying audio: %w", err)
	}

	if clip.Format, err = audio.ParseTag(tag); err != nil {
		return Clip{}, err
	}
	if clip.PCM, err = audio.Decode(enc, blob); err != nil {
		return Clip{}, fmt.Errorf("decoding audio %s: %w", audioID, err)
	}
	if clip.CreatedAt, err = parseTimestamp(created); err != nil {
		return Clip{}, err
	}
	return clip, nil
}

// History returns a mailbox's messages, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - mailboxID: Mailbox to list
//   - limit: Maximum entries to return (default 50, max 500)
func (r *SQLiteRepository) History(ctx context.Context, mailboxID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE mailbox_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`,
		mailboxID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying message history: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			unread  int
			created string
			readAt  sql.NullString
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.MailboxID, &m.AudioID, &m.Host, &unread, &created, &readAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Unread = unread != 0

		ts, err := parseTimestamp(created)
		if err != nil {
			return nil, err
		}
		m.CreatedAt = ts

		if readAt.Valid {
			ts, err := parseTimestamp(readAt.String)
			if err != nil {
				return nil, err
			}
			m.ReadAt = &ts
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return ts, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

var _ Repository = (*SQLiteRepository)(nil)
