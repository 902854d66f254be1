package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/transponder/internal/directory"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/database"
	"github.com/nerrad567/transponder/internal/mailbox"
	_ "github.com/nerrad567/transponder/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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
	return NewSQLiteRepository(db)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	e := Entry{Action: ActionMailboxAdded, MailboxID: "kitchen", Source: SourceDirectory,
		Details: map[string]any{"led_index": 3}}
	if err := repo.Create(ctx, &e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("Create() did not fill ID/CreatedAt: %+v", e)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() total=%d len=%d, want 1", res.Total, len(res.Entries))
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.MailboxID != "kitchen" || got.Subject != "" {
		t.Errorf("entry = %+v", got)
	}
	// JSON numbers come back as float64.
	if got.Details["led_index"] != float64(3) {
		t.Errorf("Details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
	}
	if res.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultListLimit)
	}
}

func TestCreate_RequiresActionAndSource(t *testing.T) {
	repo := setupRepo(t)
	for _, e := range []Entry{{Source: SourceAPI}, {Action: ActionUploadRetried}} {
		if err := repo.Create(context.Background(), &e); err == nil {
			t.Errorf("Create(%+v) expected error", e)
		}
	}
}

func TestList_FilterAndOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Action: ActionMailboxAdded, MailboxID: "kitchen", CreatedAt: base},
		{Action: ActionMailboxAdded, MailboxID: "attic", CreatedAt: base.Add(time.Second)},
		{Action: ActionMailboxRemoved, MailboxID: "kitchen", CreatedAt: base.Add(2 * time.Second)},
		// Same instant as the previous entry; insertion order breaks the tie.
		{Action: ActionMailboxAdded, MailboxID: "kitchen", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range seed {
		seed[i].Source = SourceDirectory
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
		total  int
	}{
		{"all newest first", Filter{}, []string{seed[3].ID, seed[2].ID, seed[1].ID, seed[0].ID}, 4},
		{"by mailbox", Filter{MailboxID: "kitchen"}, []string{seed[3].ID, seed[2].ID, seed[0].ID}, 3},
		{"by action", Filter{Action: ActionMailboxRemoved}, []string{seed[2].ID}, 1},
		{"both", Filter{Action: ActionMailboxAdded, MailboxID: "attic"}, []string{seed[1].ID}, 1},
		{"page", Filter{Limit: 2, Offset: 1}, []string{seed[2].ID, seed[1].ID}, 4},
		{"no match", Filter{MailboxID: "cellar"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if res.Entries == nil {
				t.Fatal("Entries is nil, want empty slice")
			}
			if len(res.Entries) != len(tt.want) {
				t.Fatalf("len(Entries) = %d, want %d", len(res.Entries), len(tt.want))
			}
			for i, id := range tt.want {
				if res.Entries[i].ID != id {
					t.Errorf("Entries[%d] = %s (%s), want %s", i, res.Entries[i].ID, res.Entries[i].Action, id)
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 10000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxListLimit || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want %d/0", res.Limit, res.Offset, maxListLimit)
	}
}

type warnLogger struct{ warnings []string }

func (l *warnLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }

func TestRecorder_Events(t *testing.T) {
	repo := setupRepo(t)
	rec := NewRecorder(repo)
	ctx := context.Background()

	kitchen := config.StationConfig{ID: "kitchen", LEDIndex: 2, ButtonPin: 17, Pin: "sl"}
	rec.RosterChanged(directory.Event{Type: directory.EventAdded, ID: "kitchen", Station: kitchen}, nil)
	rec.RosterChanged(directory.Event{Type: directory.EventModified, ID: "kitchen", Station: kitchen}, errors.New("bad pin"))
	rec.RosterChanged(directory.Event{Type: directory.EventRemoved, ID: "kitchen"}, nil)
	rec.UploadFailed(mailbox.FailedUpload{
		Recording: mailbox.Recording{ID: "rec-1", Initiator: "attic", Recipients: []string{"kitchen"}},
		Bytes:     4096,
		Attempts:  3,
		LastError: "database is locked",
	})
	rec.UploadRetried("rec-1", "operator", nil)
	rec.VersionChanged("v1.0.0", "v1.1.0")

	res, err := rec.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	wantActions := []string{
		ActionVersionChanged,
		ActionUploadRetried,
		ActionUploadFailed,
		ActionMailboxRemoved,
		ActionMailboxFailed,
		ActionMailboxAdded,
	}
	if len(res.Entries) != len(wantActions) {
		t.Fatalf("len(Entries) = %d, want %d", len(res.Entries), len(wantActions))
	}
	for i, want := range wantActions {
		if res.Entries[i].Action != want {
			t.Errorf("Entries[%d].Action = %s, want %s", i, res.Entries[i].Action, want)
		}
	}

	failed := res.Entries[4]
	if failed.Details["error"] != "bad pin" || failed.Details["event"] != string(directory.EventModified) {
		t.Errorf("mailbox.failed details = %v", failed.Details)
	}
	if added := res.Entries[5]; added.Details["button_pin"] != float64(17) {
		t.Errorf("mailbox.added details = %v", added.Details)
	}
	upload := res.Entries[2]
	if upload.MailboxID != "attic" || upload.Details["recording_id"] != "rec-1" || upload.Source != SourceUploader {
		t.Errorf("upload.failed entry = %+v", upload)
	}
	if retried := res.Entries[1]; retried.Subject != "operator" || retried.Details["delivered"] != true {
		t.Errorf("upload.retried entry = %+v", retried)
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("disk full")
}

func TestRecorder_LogsWriteFailures(t *testing.T) {
	rec := NewRecorder(failingRepo{})
	log := &warnLogger{}
	rec.SetLogger(log)

	rec.VersionChanged("a", "b")
	if len(log.warnings) != 1 {
		t.Errorf("warnings = %v, want one", log.warnings)
	}
}
