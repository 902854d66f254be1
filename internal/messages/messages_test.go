package messages

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/infrastructure/database"
	_ "github.com/nerrad567/transponder/migrations"
)

func setupRepo(t *testing.T, encoding string) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "messages.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db, encoding)
}

func testClip(pcm []byte) Clip {
	return Clip{Host: "hall", Format: audio.Mono16(22050), PCM: pcm}
}

func TestDeliver_AllRecipientsShareOneClip(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	ctx := context.Background()

	pcm := []byte{1, 2, 3, 4, 5, 6}
	msgs, err := repo.Deliver(ctx, testClip(pcm), []string{"kitchen", "attic", "kitchen"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Deliver() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].MailboxID != "kitchen" || msgs[1].MailboxID != "attic" {
		t.Errorf("recipients = %s, %s; want kitchen, attic", msgs[0].MailboxID, msgs[1].MailboxID)
	}
	if msgs[0].AudioID != msgs[1].AudioID {
		t.Error("recipients reference different audio blobs")
	}

	for _, m := range msgs {
		clip, err := repo.Clip(ctx, m.AudioID)
		if err != nil {
			t.Fatalf("Clip() error = %v", err)
		}
		if !bytes.Equal(clip.PCM, pcm) {
			t.Errorf("%s clip = %v, want %v", m.MailboxID, clip.PCM, pcm)
		}
		if clip.Format != audio.Mono16(22050) {
			t.Errorf("clip format = %+v", clip.Format)
		}
	}
}

func TestDeliver_Validation(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	ctx := context.Background()

	if _, err := repo.Deliver(ctx, testClip(nil), nil); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Deliver(no recipients) error = %v, want ErrNoRecipients", err)
	}
	if _, err := repo.Deliver(ctx, testClip(nil), []string{"", ""}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Deliver(blank recipients) error = %v, want ErrNoRecipients", err)
	}
	if _, err := repo.Deliver(ctx, Clip{Format: audio.Mono16(22050)}, []string{"a"}); !errors.Is(err, ErrInvalidClip) {
		t.Errorf("Deliver(no host) error = %v, want ErrInvalidClip", err)
	}
}

func TestDeliver_SameClipIsDeliveredOnce(t *testing.T) {
	store := NewStore(setupRepo(t, audio.EncodingRaw))
	ctx := context.Background()

	var hooked int
	store.SetOnDeliver(func(Message) { hooked++ })

	clip := testClip([]byte{1, 2})
	clip.ID = "fixed"
	first, err := store.Deliver(ctx, clip, []string{"a", "b"})
	if err != nil {
		t.Fatalf("first Deliver() error = %v", err)
	}

	var rec recorder
	cancel, err := store.Watch(ctx, "a", rec.watch)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer cancel()

	// A repeat, even with other recipients, returns the stored messages.
	again, err := store.Deliver(ctx, clip, []string{"a", "c"})
	if !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("second Deliver() error = %v, want ErrAlreadyDelivered", err)
	}
	if len(again) != 2 || again[0].ID != first[0].ID || again[1].ID != first[1].ID {
		t.Errorf("second Deliver() = %+v, want %+v", again, first)
	}
	if hooked != 2 {
		t.Errorf("OnDeliver called %d times, want 2", hooked)
	}
	if rec.count() != 1 {
		t.Errorf("watcher got %d snapshots, want only the initial one", rec.count())
	}

	counts, err := store.Repository().UnreadCounts(ctx)
	if err != nil {
		t.Fatalf("UnreadCounts() error = %v", err)
	}
	if counts["a"] != 1 || counts["b"] != 1 || counts["c"] != 0 {
		t.Errorf("UnreadCounts() = %v, want a:1 b:1", counts)
	}
}

func TestUnread_OldestFirst(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		msgs, err := repo.Deliver(ctx, testClip([]byte{byte(i), 0}), []string{"kitchen"})
		if err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
		ids = append(ids, msgs[0].ID)
	}

	unread, err := repo.Unread(ctx, "kitchen")
	if err != nil {
		t.Fatalf("Unread() error = %v", err)
	}
	if len(unread) != 3 {
		t.Fatalf("Unread() returned %d, want 3", len(unread))
	}
	for i, m := range unread {
		if m.ID != ids[i] {
			t.Errorf("unread[%d] = %s, want %s", i, m.ID, ids[i])
		}
		if !m.Unread || m.ReadAt != nil {
			t.Errorf("unread[%d] = %+v, want unread", i, m)
		}
	}
}

func TestMarkRead(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	ctx := context.Background()

	msgs, err := repo.Deliver(ctx, testClip([]byte{1, 2}), []string{"kitchen", "attic"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if err := repo.MarkRead(ctx, msgs[0].ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	// Idempotent.
	if err := repo.MarkRead(ctx, msgs[0].ID); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}

	got, err := repo.Get(ctx, msgs[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Unread || got.ReadAt == nil {
		t.Errorf("Get() = %+v, want read with read_at", got)
	}

	// The other recipient's copy is untouched.
	other, err := repo.Unread(ctx, "attic")
	if err != nil {
		t.Fatalf("Unread() error = %v", err)
	}
	if len(other) != 1 {
		t.Errorf("attic unread = %d, want 1", len(other))
	}

	if err := repo.MarkRead(ctx, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("MarkRead(missing) error = %v, want ErrMessageNotFound", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrMessageNotFound", err)
	}
}

func TestUnreadCountsAndHistory(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	ctx := context.Background()

	first, _ := repo.Deliver(ctx, testClip([]byte{1, 0}), []string{"kitchen", "attic"})
	second, _ := repo.Deliver(ctx, testClip([]byte{2, 0}), []string{"kitchen"})
	if err := repo.MarkRead(ctx, first[1].ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	counts, err := repo.UnreadCounts(ctx)
	if err != nil {
		t.Fatalf("UnreadCounts() error = %v", err)
	}
	if counts["kitchen"] != 2 || counts["attic"] != 0 {
		t.Errorf("UnreadCounts() = %v", counts)
	}

	history, err := repo.History(ctx, "kitchen", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != second[0].ID {
		t.Errorf("History() = %+v, want newest first", history)
	}

	limited, err := repo.History(ctx, "kitchen", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("History(limit 1) returned %d", len(limited))
	}
}

func TestClip_Zstd(t *testing.T) {
	repo := setupRepo(t, audio.EncodingZstd)
	ctx := context.Background()

	pcm := bytes.Repeat([]byte{9, 0, 8, 0}, 2048)
	msgs, err := repo.Deliver(ctx, testClip(pcm), []string{"kitchen"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	clip, err := repo.Clip(ctx, msgs[0].AudioID)
	if err != nil {
		t.Fatalf("Clip() error = %v", err)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Error("zstd clip did not round trip")
	}
	if clip.Duration() != audio.Mono16(22050).Duration(len(pcm)) {
		t.Errorf("Duration() = %v", clip.Duration())
	}

	if _, err := repo.Clip(ctx, "missing"); !errors.Is(err, ErrAudioNotFound) {
		t.Errorf("Clip(missing) error = %v, want ErrAudioNotFound", err)
	}
}

// recorder collects snapshots handed to a watcher.
type recorder struct {
	mu    sync.Mutex
	snaps [][]Message
}

func (r *recorder) watch(unread []Message) {
	r.mu.Lock()
	r.snaps = append(r.snaps, unread)
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) []Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		t.Fatal("no snapshot received")
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestStore_Watch(t *testing.T) {
	store := NewStore(setupRepo(t, audio.EncodingRaw))
	ctx := context.Background()

	var rec recorder
	cancel, err := store.Watch(ctx, "kitchen", rec.watch)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if rec.count() != 1 || len(rec.last(t)) != 0 {
		t.Fatalf("initial snapshot = %v, want one empty snapshot", rec.snaps)
	}

	msgs, err := store.Deliver(ctx, testClip([]byte{1, 2}), []string{"kitchen"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if got := rec.last(t); len(got) != 1 || got[0].ID != msgs[0].ID {
		t.Errorf("snapshot after deliver = %+v", got)
	}

	if err := store.MarkRead(ctx, msgs[0]); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if got := rec.last(t); len(got) != 0 {
		t.Errorf("snapshot after read = %+v, want empty", got)
	}

	cancel()
	cancel()
	before := rec.count()
	if _, err := store.Deliver(ctx, testClip([]byte{3, 4}), []string{"kitchen"}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if rec.count() != before {
		t.Error("cancelled watcher was notified")
	}
	if store.Watchers("kitchen") != 0 {
		t.Errorf("Watchers() = %d after cancel", store.Watchers("kitchen"))
	}
}

func TestStore_OnlyAffectedMailboxesNotified(t *testing.T) {
	store := NewStore(setupRepo(t, audio.EncodingRaw))
	ctx := context.Background()

	var kitchen, attic recorder
	c1, _ := store.Watch(ctx, "kitchen", kitchen.watch)
	c2, _ := store.Watch(ctx, "attic", attic.watch)
	defer c1()
	defer c2()

	var delivered []Message
	store.SetOnDeliver(func(m Message) { delivered = append(delivered, m) })

	if _, err := store.Deliver(ctx, testClip([]byte{1, 2}), []string{"kitchen"}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if kitchen.count() != 2 {
		t.Errorf("kitchen snapshots = %d, want 2", kitchen.count())
	}
	if attic.count() != 1 {
		t.Errorf("attic snapshots = %d, want 1", attic.count())
	}
	if len(delivered) != 1 || delivered[0].MailboxID != "kitchen" {
		t.Errorf("OnDeliver saw %+v", delivered)
	}
}

func TestDeliver_PreservesTimestamp(t *testing.T) {
	repo := setupRepo(t, audio.EncodingRaw)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clip := testClip([]byte{1, 2})
	clip.CreatedAt = at

	msgs, err := repo.Deliver(context.Background(), clip, []string{"kitchen"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	got, err := repo.Get(context.Background(), msgs[0].ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at)
	}
}
