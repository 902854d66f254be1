package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/transponder/internal/infrastructure/config"
)

// EventType is a roster change kind.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventRemoved  EventType = "REMOVED"
)

// Event is one roster change. Station is unused for EventRemoved.
type Event struct {
	Type    EventType
	ID      string
	Station config.StationConfig
}

// Instance is a running station.
type Instance interface {
	ID() string
	Start(ctx context.Context) error

	// Stop must not return until the instance's worker has exited and
	// its watches are released.
	Stop()
}

// Factory builds a stopped instance from a roster entry.
type Factory func(cfg config.StationConfig) (Instance, error)

// Logger defines the logging interface for the directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Directory owns the station instances, keyed by ID.
//
// Thread Safety:
//   - Apply and Run must be driven from one goroutine.
//   - Get and List are safe from any goroutine.
type Directory struct {
	factory Factory
	logger  Logger

	onFirstStart func()
	onApplied    func(ev Event, err error)
	started      bool

	mu        sync.RWMutex
	instances map[string]Instance
}

// New creates an empty Directory.
func New(factory Factory) *Directory {
	return &Directory{
		factory:   factory,
		logger:    noopLogger{},
		instances: make(map[string]Instance),
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// SetOnFirstStart registers fn to run once, synchronously, before the
// first instance starts.
func (d *Directory) SetOnFirstStart(fn func()) {
	d.onFirstStart = fn
}

// SetOnApplied registers fn to be told the outcome of every Apply. A
// REMOVED for an unknown ID is not reported.
func (d *Directory) SetOnApplied(fn func(ev Event, err error)) {
	d.onApplied = fn
}

// Run applies events until the channel closes or ctx is cancelled, then
// stops every instance. Apply failures are logged and do not end the loop.
func (d *Directory) Run(ctx context.Context, events <-chan Event) error {
	defer d.StopAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Apply(ctx, ev); err != nil {
				d.logger.Error("roster change failed", "event", ev.Type, "mailbox", ev.ID, "error", err)
			}
		}
	}
}

// Apply processes one event to completion.
//
// ADDED for a running ID replaces it, as MODIFIED does. MODIFIED for an
// unknown ID creates it. REMOVED for an unknown ID does nothing.
func (d *Directory) Apply(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return ErrMissingID
	}

	switch ev.Type {
	case EventAdded, EventModified:
		d.destroy(ev.ID)
		err := d.create(ctx, ev)
		d.applied(ev, err)
		return err
	case EventRemoved:
		if d.destroy(ev.ID) {
			d.logger.Info("mailbox removed", "mailbox", ev.ID)
			d.applied(ev, nil)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
}

func (d *Directory) applied(ev Event, err error) {
	if d.onApplied != nil {
		d.onApplied(ev, err)
	}
}

func (d *Directory) create(ctx context.Context, ev Event) error {
	cfg := ev.Station
	cfg.ID = ev.ID

	inst, err := d.factory(cfg)
	if err != nil {
		return fmt.Errorf("building mailbox %s: %w", ev.ID, err)
	}

	if !d.started {
		d.started = true
		if d.onFirstStart != nil {
			d.onFirstStart()
		}
	}

	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("starting mailbox %s: %w", ev.ID, err)
	}

	d.mu.Lock()
	d.instances[ev.ID] = inst
	d.mu.Unlock()

	d.logger.Info("mailbox started",
		"mailbox", ev.ID,
		"event", ev.Type,
		"led", cfg.LEDIndex,
		"pin", cfg.ButtonPin,
	)
	return nil
}

// destroy stops and forgets the instance for id. The instance stays
// listed until it has fully stopped.
func (d *Directory) destroy(id string) bool {
	d.mu.RLock()
	inst, ok := d.instances[id]
	d.mu.RUnlock()
	if !ok {
		return false
	}

	inst.Stop()

	d.mu.Lock()
	delete(d.instances, id)
	d.mu.Unlock()
	return true
}

// StopAll stops every instance.
func (d *Directory) StopAll() {
	for _, inst := range d.List() {
		d.destroy(inst.ID())
	}
}

// Get returns the running instance for id.
func (d *Directory) Get(id string) (Instance, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.instances[id]
	return inst, ok
}

// List returns the running instances ordered by ID.
func (d *Directory) List() []Instance {
	d.mu.RLock()
	out := make([]Instance, 0, len(d.instances))
	for _, inst := range d.instances {
		out = append(out, inst)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of running instances.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.instances)
}
