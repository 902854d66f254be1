package ota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/transponder/internal/infrastructure/mqtt"
)

// ExitRestart is the process exit status that asks the supervisor for an
// update and restart (EX_TEMPFAIL).
const ExitRestart = 75

const describeTimeout = 5 * time.Second

// ErrEmptyVersion is returned for a blank version marker.
var ErrEmptyVersion = errors.New("ota: empty version")

// RunningVersion picks the version this process reports: override if
// set, else the build version, else `git describe --always` in dir for a
// development checkout, else "dev".
func RunningVersion(ctx context.Context, override, build, dir string) string {
	if override != "" {
		return override
	}
	if build != "" && build != "dev" {
		return build
	}

	ctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "describe", "--always")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "dev"
	}
	if v := strings.TrimSpace(string(out)); v != "" {
		return v
	}
	return "dev"
}

// ParseVersion reads a version marker payload.
func ParseVersion(payload []byte) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var doc struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return "", fmt.Errorf("decoding version marker: %w", err)
		}
		trimmed = strings.TrimSpace(doc.Version)
	} else {
		trimmed = strings.Trim(trimmed, `"`)
	}
	if trimmed == "" {
		return "", ErrEmptyVersion
	}
	return trimmed, nil
}

// Subscriber is the subset of mqtt.Client the watcher needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface for the watcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Watcher compares the remote version marker with the running version.
type Watcher struct {
	broker  Subscriber
	running string
	qos     byte
	logger  Logger

	restart chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	latest   string
	onChange func(running, latest string)
}

// NewWatcher creates a stopped watcher for running.
func NewWatcher(broker Subscriber, running string, qos byte) *Watcher {
	return &Watcher{
		broker:  broker,
		running: running,
		qos:     qos,
		logger:  noopLogger{},
		restart: make(chan struct{}),
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// SetOnChange registers a hook called once when a newer version is seen.
func (w *Watcher) SetOnChange(fn func(running, latest string)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Start subscribes to the version marker.
func (w *Watcher) Start() error {
	if err := w.broker.Subscribe(mqtt.Topics{}.GlobalVersion(), w.qos, w.handle); err != nil {
		return fmt.Errorf("subscribing to version marker: %w", err)
	}
	return nil
}

// Stop unsubscribes from the version marker.
func (w *Watcher) Stop() error {
	return w.broker.Unsubscribe(mqtt.Topics{}.GlobalVersion())
}

// Running returns the version this process was started with.
func (w *Watcher) Running() string {
	return w.running
}

// Latest returns the last marker seen, empty if none.
func (w *Watcher) Latest() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

// RestartRequested is closed once the marker differs from Running.
func (w *Watcher) RestartRequested() <-chan struct{} {
	return w.restart
}

func (w *Watcher) handle(_ string, payload []byte) error {
	latest, err := ParseVersion(payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.latest = latest
	hook := w.onChange
	w.mu.Unlock()

	if latest == w.running {
		return nil
	}

	w.once.Do(func() {
		w.logger.Info("new version available, requesting restart", "running", w.running, "latest", latest)
		if hook != nil {
			hook(w.running, latest)
		}
		close(w.restart)
	})
	return nil
}
