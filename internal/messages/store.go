package messages

import (
	"context"
	"errors"
	"sync"
)

// Logger defines the logging interface for the store.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// WatchFunc receives a mailbox's unread messages, oldest first.
// It is called from the goroutine that committed the change and must not
// block or cancel its own watch.
type WatchFunc func(unread []Message)

// DeliverFunc is told about every message after its delivery commits.
type DeliverFunc func(msg Message)

// Store wraps a Repository with per-mailbox change notification.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	repo   Repository
	logger Logger

	// notifyMu serialises snapshot query and dispatch so watchers never
	// see an older snapshot after a newer one.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	nextID    uint64
	watchers  map[string]map[uint64]WatchFunc
	onDeliver DeliverFunc
}

// NewStore creates a Store over repo.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:     repo,
		logger:   noopLogger{},
		watchers: make(map[string]map[uint64]WatchFunc),
	}
}

// SetLogger sets the logger used for notification failures.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnDeliver registers a hook called for every delivered message.
func (s *Store) SetOnDeliver(fn DeliverFunc) {
	s.mu.Lock()
	s.onDeliver = fn
	s.mu.Unlock()
}

// Repository returns the underlying repository for read-only queries.
func (s *Store) Repository() Repository {
	return s.repo
}

// Watch registers fn for mailboxID and immediately delivers the current
// snapshot. The returned cancel func is idempotent; once it returns, fn
// is not called again.
func (s *Store) Watch(ctx context.Context, mailboxID string, fn WatchFunc) (cancel func(), err error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.watchers[mailboxID] == nil {
		s.watchers[mailboxID] = make(map[uint64]WatchFunc)
	}
	s.watchers[mailboxID][id] = fn
	s.mu.Unlock()

	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set := s.watchers[mailboxID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(s.watchers, mailboxID)
			}
		}
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	unread, err := s.repo.Unread(ctx, mailboxID)
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.RLock()
	_, active := s.watchers[mailboxID][id]
	if active {
		fn(unread)
	}
	s.mu.RUnlock()

	return cancel, nil
}

// Watchers returns the number of watchers registered for mailboxID.
func (s *Store) Watchers(mailboxID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[mailboxID])
}

// Deliver stores clip for recipients and notifies their watchers.
func (s *Store) Deliver(ctx context.Context, clip Clip, recipients []string) ([]Message, error) {
	delivered, err := s.repo.Deliver(ctx, clip, recipients)
	if errors.Is(err, ErrAlreadyDelivered) {
		// Watchers and hooks saw these messages the first time.
		return delivered, err
	}
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	hook := s.onDeliver
	s.mu.RUnlock()

	for _, m := range delivered {
		s.notify(ctx, m.MailboxID)
		if hook != nil {
			hook(m)
		}
	}
	return delivered, nil
}

// MarkRead flips msg to read and notifies its mailbox's watchers.
func (s *Store) MarkRead(ctx context.Context, msg Message) error {
	if err := s.repo.MarkRead(ctx, msg.ID); err != nil {
		return err
	}
	s.notify(ctx, msg.MailboxID)
	return nil
}

// Unread returns a mailbox's unread messages, oldest first.
func (s *Store) Unread(ctx context.Context, mailboxID string) ([]Message, error) {
	return s.repo.Unread(ctx, mailboxID)
}

// Clip loads an audio blob.
func (s *Store) Clip(ctx context.Context, audioID string) (Clip, error) {
	return s.repo.Clip(ctx, audioID)
}

// notify pushes a fresh snapshot to the mailbox's watchers. The read lock
// is held across the callbacks so a cancel that has returned is final.
func (s *Store) notify(ctx context.Context, mailboxID string) {
	s.mu.RLock()
	n := len(s.watchers[mailboxID])
	s.mu.RUnlock()
	if n == 0 {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	unread, err := s.repo.Unread(ctx, mailboxID)
	if err != nil {
		s.logger.Warn("failed to refresh unread snapshot", "mailbox", mailboxID, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.watchers[mailboxID] {
		fn(unread)
	}
}
