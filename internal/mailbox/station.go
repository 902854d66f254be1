package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/transponder/internal/audio"
	"github.com/nerrad567/transponder/internal/hardware"
	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/messages"
)

// State is a station's interaction state.
type State string

const (
	StateIdle           State = "idle"
	StateHolding        State = "holding"
	StateRecording      State = "recording"
	StateAuthenticating State = "authenticating"
	StatePlaying        State = "playing"
)

// MessageStore is the part of messages.Store a station uses.
type MessageStore interface {
	Watch(ctx context.Context, mailboxID string, fn messages.WatchFunc) (func(), error)
	Clip(ctx context.Context, audioID string) (messages.Clip, error)
	MarkRead(ctx context.Context, msg messages.Message) error
}

// Submitter accepts finished recordings. Uploader implements it.
type Submitter interface {
	Submit(rec Recording)
}

// Deps are the collaborators a station is built with.
type Deps struct {
	Buttons  hardware.ButtonSource
	Lights   hardware.LightSink
	Store    MessageStore
	Sessions *Sessions
	Uploads  Submitter
	Player   audio.Player
	Clock    Clock
	Logger   Logger
	Metrics  Metrics

	// Gain is the playback peak level in dBFS.
	Gain float64

	// OnStateChange is called from the worker on every transition.
	OnStateChange func(id string, state State)
}

// Info is a point-in-time view of a station for the operator API.
type Info struct {
	ID         string     `json:"id"`
	LightIndex int        `json:"led_index"`
	ButtonPin  int        `json:"button_pin"`
	State      State      `json:"state"`
	Unread     int        `json:"unread"`
	LastUnlock *time.Time `json:"last_unlock,omitempty"`
	Running    bool       `json:"running"`
}

// Station drives one button and light. All interaction state is owned
// by the worker goroutine started by Start.
type Station struct {
	id         string
	lightIndex int
	buttonPin  int
	timing     config.MailboxConfig
	deps       Deps
	auth       *Authenticator

	snapshots chan []messages.Message

	// Worker-owned.
	queue       []messages.Message
	state       State
	lastLight   *hardware.RGB
	wasPressed  bool
	holdStart   time.Time
	session     *Session
	isInitiator bool

	mu      sync.RWMutex
	info    Info
	cancel  context.CancelFunc
	unwatch func()
	done    chan struct{}
}

// NewStation validates cfg and builds a stopped station.
//
// Parameters:
//   - cfg: Roster entry (id, light index, button pin, secret)
//   - timing: Tick and threshold settings
//   - deps: Collaborators; nil Clock, Logger and Metrics get defaults
//
// Returns:
//   - *Station: Stopped station
//   - error: ErrInvalidStation or ErrInvalidSecret
func NewStation(cfg config.StationConfig, timing config.MailboxConfig, deps Deps) (*Station, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidStation)
	}
	if cfg.LEDIndex < 0 || cfg.ButtonPin < 0 {
		return nil, fmt.Errorf("%w: %s: negative led index or button pin", ErrInvalidStation, cfg.ID)
	}
	if timing.Tick <= 0 {
		return nil, fmt.Errorf("%w: tick must be positive", ErrInvalidStation)
	}
	if deps.Buttons == nil || deps.Lights == nil || deps.Store == nil || deps.Sessions == nil ||
		deps.Uploads == nil || deps.Player == nil {
		return nil, fmt.Errorf("%w: %s: missing dependency", ErrInvalidStation, cfg.ID)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}

	auth, err := NewAuthenticator(deps.Buttons, cfg.ButtonPin, cfg.Pin, AuthTiming{
		Tick:         timing.Tick,
		LongPress:    timing.LongPress,
		PressTimeout: timing.PressTimeout,
		UnlockTTL:    timing.UnlockTTL,
	}, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", cfg.ID, err)
	}
	auth.SetLogger(deps.Logger)

	return &Station{
		id:         cfg.ID,
		lightIndex: cfg.LEDIndex,
		buttonPin:  cfg.ButtonPin,
		timing:     timing,
		deps:       deps,
		auth:       auth,
		snapshots:  make(chan []messages.Message, 1),
		state:      StateIdle,
		info: Info{
			ID:         cfg.ID,
			LightIndex: cfg.LEDIndex,
			ButtonPin:  cfg.ButtonPin,
			State:      StateIdle,
		},
	}, nil
}

// ID returns the station's mailbox ID.
func (s *Station) ID() string { return s.id }

// Start subscribes to the station's unread queue and launches the worker.
func (s *Station) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s.id)
	}

	unwatch, err := s.deps.Store.Watch(ctx, s.id, s.pushSnapshot)
	if err != nil {
		return fmt.Errorf("watching mailbox %s: %w", s.id, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.unwatch = unwatch
	s.done = make(chan struct{})
	s.info.Running = true

	go s.run(ctx, s.done)
	return nil
}

// Stop releases the unread watch, signals the worker and waits for it to
// exit. It is safe to call more than once and on a station never started.
func (s *Station) Stop() {
	s.mu.Lock()
	unwatch, cancel, done := s.unwatch, s.cancel, s.done
	s.unwatch, s.cancel = nil, nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done is closed when the worker has exited. It is nil before Start.
func (s *Station) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Info returns a snapshot of the station's state.
func (s *Station) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	if info.LastUnlock != nil {
		t := *info.LastUnlock
		info.LastUnlock = &t
	}
	return info
}

// pushSnapshot replaces any pending snapshot with the latest one.
func (s *Station) pushSnapshot(unread []messages.Message) {
	for {
		select {
		case s.snapshots <- unread:
			return
		default:
		}
		select {
		case <-s.snapshots:
		default:
		}
	}
}

func (s *Station) applySnapshots() {
	select {
	case unread := <-s.snapshots:
		s.queue = unread
		s.mu.Lock()
		s.info.Unread = len(unread)
		s.mu.Unlock()
	default:
	}
}

func (s *Station) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.info.Running = false
		s.mu.Unlock()
	}()

	s.deps.Logger.Debug("station started", "mailbox", s.id, "pin", s.buttonPin, "led", s.lightIndex)
	for {
		if ctx.Err() != nil {
			s.shutdown()
			return
		}
		s.step(ctx)
		if s.deps.Clock.Sleep(ctx, s.timing.Tick) != nil {
			s.shutdown()
			return
		}
	}
}

// step evaluates one tick.
func (s *Station) step(ctx context.Context) {
	s.applySnapshots()

	pressed, err := s.deps.Buttons.IsPressed(s.buttonPin)
	if err != nil {
		s.deps.Logger.Warn("button read failed", "mailbox", s.id, "pin", s.buttonPin, "error", err)
		return
	}
	edge := pressed && !s.wasPressed
	s.wasPressed = pressed

	switch s.state {
	case StateIdle:
		if !edge {
			s.refreshLight()
			return
		}
		if sess, ok := s.deps.Sessions.JoinActive(s.id); ok {
			s.deps.Logger.Info("joined recording", "mailbox", s.id, "recording", sess.ID())
			s.enterRecording(sess, false)
			return
		}
		s.holdStart = s.deps.Clock.Now()
		s.setState(StateHolding)
		s.setLight(hardware.ColorListening)

	case StateHolding:
		// A press that overlaps someone else's recording makes this
		// station a recipient, even if it is let go before the threshold.
		if sess, ok := s.deps.Sessions.JoinActive(s.id); ok {
			s.deps.Logger.Info("joined recording", "mailbox", s.id, "recording", sess.ID())
			s.enterRecording(sess, false)
			return
		}
		if pressed {
			if s.deps.Clock.Now().Sub(s.holdStart) >= s.timing.HoldThreshold {
				sess, initiator := s.deps.Sessions.StartOrJoin(s.id)
				if initiator {
					s.deps.Logger.Info("recording started", "mailbox", s.id, "recording", sess.ID())
				}
				s.enterRecording(sess, initiator)
			}
			return
		}
		s.authenticate(ctx)

	case StateRecording:
		if s.isInitiator {
			if !pressed {
				s.finishRecording(ctx)
			}
			return
		}
		select {
		case <-s.session.Done():
			s.leaveRecording()
		default:
		}
	}
}

func (s *Station) enterRecording(sess *Session, initiator bool) {
	s.session = sess
	s.isInitiator = initiator
	s.setState(StateRecording)
	s.setLight(hardware.ColorRecording)
}

// finishRecording drains, closes the session and hands it off for upload.
func (s *Station) finishRecording(ctx context.Context) {
	if s.timing.Drain > 0 {
		s.deps.Clock.Sleep(ctx, s.timing.Drain) //nolint:errcheck // A cancelled drain still closes the session
	}

	rec := s.deps.Sessions.Finish(s.session)
	s.leaveRecording()
	if rec.ID == "" {
		return
	}

	s.deps.Logger.Info("recording finished",
		"mailbox", s.id,
		"recording", rec.ID,
		"recipients", rec.Recipients,
		"bytes", rec.Bytes(),
	)
	s.deps.Metrics.RecordRecording(s.id, len(rec.Recipients), rec.Bytes(), rec.Duration())
	s.deps.Uploads.Submit(rec)
}

func (s *Station) leaveRecording() {
	s.session = nil
	s.isInitiator = false
	s.toIdle()
}

// authenticate runs PIN entry and, on success, plays the queue head.
func (s *Station) authenticate(ctx context.Context) {
	s.setState(StateAuthenticating)
	s.setLight(hardware.ColorAuth)

	res, err := s.auth.Authenticate(ctx)
	if err != nil {
		s.toIdle()
		return
	}
	s.deps.Metrics.RecordAuth(s.id, res.OK, res.Cached)
	if !res.OK {
		s.deps.Logger.Info("authentication failed", "mailbox", s.id, "presses", res.Presses())
		s.toIdle()
		return
	}

	last := s.auth.LastUnlock()
	s.mu.Lock()
	if !last.IsZero() {
		s.info.LastUnlock = &last
	}
	s.mu.Unlock()
	s.deps.Logger.Info("authenticated", "mailbox", s.id, "cached", res.Cached)

	s.play(ctx)
	s.toIdle()
}

// play plays and marks read the oldest unread message. A failed playback
// leaves the message unread.
func (s *Station) play(ctx context.Context) {
	s.applySnapshots()
	if len(s.queue) == 0 {
		s.deps.Logger.Info("no unread messages", "mailbox", s.id)
		return
	}
	head := s.queue[0]

	s.setState(StatePlaying)
	s.setLight(hardware.ColorOff)

	clip, err := s.deps.Store.Clip(ctx, head.AudioID)
	if err != nil {
		s.deps.Logger.Error("loading message audio failed", "mailbox", s.id, "message", head.ID, "error", err)
		return
	}

	started := s.deps.Clock.Now()
	pcm := audio.Normalize(clip.PCM, s.deps.Gain)
	if err := s.deps.Player.Play(ctx, pcm, clip.Format); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.deps.Logger.Error("playback failed", "mailbox", s.id, "message", head.ID, "error", err)
		}
		return
	}
	s.deps.Metrics.RecordPlayback(s.id, s.deps.Clock.Now().Sub(started))

	// Marking read must not be lost to a shutdown that lands after playback.
	if err := s.deps.Store.MarkRead(context.WithoutCancel(ctx), head); err != nil {
		s.deps.Logger.Error("marking message read failed", "mailbox", s.id, "message", head.ID, "error", err)
		return
	}
	s.queue = s.queue[1:]
	s.mu.Lock()
	s.info.Unread = len(s.queue)
	s.mu.Unlock()
	s.deps.Logger.Info("message played", "mailbox", s.id, "message", head.ID)
}

// toIdle returns to Idle. The button must be released and pressed again
// before the next interaction.
func (s *Station) toIdle() {
	s.wasPressed = s.readPressed()
	s.setState(StateIdle)
	s.refreshLight()
}

func (s *Station) readPressed() bool {
	pressed, err := s.deps.Buttons.IsPressed(s.buttonPin)
	return err == nil && pressed
}

// shutdown closes a session this station initiated so its audio is still
// delivered.
func (s *Station) shutdown() {
	if s.state == StateRecording && s.isInitiator {
		s.finishRecording(context.Background())
	}
	s.setLight(hardware.ColorOff)
	s.deps.Logger.Debug("station stopped", "mailbox", s.id)
}

func (s *Station) refreshLight() {
	if len(s.queue) > 0 {
		s.setLight(hardware.ColorUnread)
	} else {
		s.setLight(hardware.ColorOff)
	}
}

// setLight writes color unless it is already showing.
func (s *Station) setLight(color hardware.RGB) {
	if s.lastLight != nil && *s.lastLight == color {
		return
	}
	if err := s.deps.Lights.SetColor(s.lightIndex, color); err != nil {
		s.deps.Logger.Warn("light write failed", "mailbox", s.id, "led", s.lightIndex, "error", err)
		s.lastLight = nil
		return
	}
	s.lastLight = &color
}

func (s *Station) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.mu.Lock()
	s.info.State = state
	s.mu.Unlock()

	if s.deps.OnStateChange != nil {
		s.deps.OnStateChange(s.id, state)
	}
}
