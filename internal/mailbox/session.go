package mailbox

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/transponder/internal/audio"
)

// Recording is a closed session ready for upload.
type Recording struct {
	ID         string       `json:"id"`
	Initiator  string       `json:"initiator"`
	Recipients []string     `json:"recipients"`
	Format     audio.Format `json:"-"`
	PCM        []byte       `json:"-"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
}

// Bytes returns the captured size.
func (r Recording) Bytes() int {
	return len(r.PCM)
}

// Duration returns the captured play time.
func (r Recording) Duration() time.Duration {
	return r.Format.Duration(len(r.PCM))
}

// Session is one open recording. Every recipient receives the same audio:
// the chunks captured from the moment the initiator crossed the hold
// threshold until the session closes.
type Session struct {
	id        string
	initiator string
	startedAt time.Time
	tap       *audio.Tap
	done      chan struct{}

	mu         sync.Mutex
	recipients []string
}

// ID returns the session's recording ID.
func (s *Session) ID() string { return s.id }

// Initiator returns the station that opened the session.
func (s *Session) Initiator() string { return s.initiator }

// Done is closed when the session has been finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Recipients returns the recipient IDs in join order.
func (s *Session) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.recipients)
}

// add appends id unless it is already a recipient.
func (s *Session) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.recipients, id) {
		s.recipients = append(s.recipients, id)
	}
}

// Sessions tracks the single open recording session shared by all
// stations on this host.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Sessions struct {
	broadcaster *audio.Broadcaster
	format      audio.Format
	clock       Clock

	mu     sync.Mutex
	active *Session
}

// NewSessions creates a session tracker drawing audio from b.
func NewSessions(b *audio.Broadcaster, format audio.Format, clock Clock) *Sessions {
	return &Sessions{broadcaster: b, format: format, clock: clock}
}

// StartOrJoin opens a session for id, or adds id to the open one. The
// second result reports whether id is the initiator.
func (s *Sessions) StartOrJoin(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.add(id)
		return s.active, false
	}

	s.active = &Session{
		id:         uuid.NewString(),
		initiator:  id,
		startedAt:  s.clock.Now(),
		tap:        s.broadcaster.Join(),
		done:       make(chan struct{}),
		recipients: []string{id},
	}
	return s.active, true
}

// JoinActive adds id to the open session, if there is one.
func (s *Sessions) JoinActive(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, false
	}
	s.active.add(id)
	return s.active, true
}

// Active returns the open session or nil.
func (s *Sessions) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Finish closes sess, detaches it from the broadcaster and releases every
// joined station. Finishing a session twice returns an empty recording.
func (s *Sessions) Finish(sess *Session) Recording {
	s.mu.Lock()
	if s.active != sess {
		s.mu.Unlock()
		return Recording{}
	}
	s.active = nil
	s.mu.Unlock()

	pcm := s.broadcaster.Leave(sess.tap)
	close(sess.done)

	return Recording{
		ID:         sess.id,
		Initiator:  sess.initiator,
		Recipients: sess.Recipients(),
		Format:     s.format,
		PCM:        pcm,
		StartedAt:  sess.startedAt,
		EndedAt:    s.clock.Now(),
	}
}
