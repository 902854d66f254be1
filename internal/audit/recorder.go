package audit

import (
	"context"
	"time"
)

// writeTimeout bounds a single best-effort write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface for the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes entries from event hooks. Hooks have no context and
// no way to report errors, so each write gets its own timeout and
// failures are logged.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger used for write failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record stores e, logging instead of returning any error.
func (r *Recorder) Record(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("failed to record audit entry", "action", e.Action, "error", err)
	}
}

// List passes through to the repository.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}
