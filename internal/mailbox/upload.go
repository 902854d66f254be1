package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/transponder/internal/messages"
)

// Deliverer persists a clip for a set of recipients. messages.Store
// implements it.
type Deliverer interface {
	Deliver(ctx context.Context, clip messages.Clip, recipients []string) ([]messages.Message, error)
}

// FailedUpload is a recording that exhausted its delivery attempts.
type FailedUpload struct {
	Recording Recording `json:"recording"`
	Bytes     int       `json:"bytes"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// UploadConfig controls delivery retries.
type UploadConfig struct {
	Host     string
	Attempts int

	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

// Uploader delivers recordings in the background so a station's worker
// never waits on storage. Recordings that still fail after every attempt
// are kept for operator retry.
type Uploader struct {
	store   Deliverer
	cfg     UploadConfig
	clock   Clock
	logger  Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	failed   map[string]FailedUpload
	onFailed func(FailedUpload)
}

// NewUploader creates an Uploader. Call Shutdown to wait for in-flight work.
func NewUploader(store Deliverer, cfg UploadConfig, clock Clock) *Uploader {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{
		store:   store,
		cfg:     cfg,
		clock:   clock,
		logger:  noopLogger{},
		metrics: NopMetrics{},
		ctx:     ctx,
		cancel:  cancel,
		failed:  make(map[string]FailedUpload),
	}
}

// SetLogger sets the logger for the uploader.
func (u *Uploader) SetLogger(logger Logger) {
	u.logger = logger
}

// SetMetrics sets the telemetry sink.
func (u *Uploader) SetMetrics(m Metrics) {
	u.metrics = m
}

// SetOnFailed registers a hook called when a recording is given up on.
func (u *Uploader) SetOnFailed(fn func(FailedUpload)) {
	u.mu.Lock()
	u.onFailed = fn
	u.mu.Unlock()
}

// Submit starts delivering rec in the background and returns at once.
func (u *Uploader) Submit(rec Recording) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.deliver(rec)
	}()
}

func (u *Uploader) deliver(rec Recording) {
	var err error
	attempt := 0
	for attempt < u.cfg.Attempts {
		attempt++
		if err = u.attempt(u.ctx, rec); err == nil {
			u.metrics.RecordUpload(rec.ID, true, attempt)
			u.logger.Info("recording delivered",
				"recording", rec.ID,
				"recipients", rec.Recipients,
				"bytes", rec.Bytes(),
				"attempts", attempt,
			)
			return
		}
		if errors.Is(err, messages.ErrNoRecipients) || errors.Is(err, messages.ErrInvalidClip) {
			break
		}
		if attempt == u.cfg.Attempts {
			break
		}

		delay := u.cfg.Backoff << (attempt - 1)
		u.logger.Warn("recording delivery failed, retrying",
			"recording", rec.ID, "attempt", attempt, "delay", delay, "error", err)
		if u.clock.Sleep(u.ctx, delay) != nil {
			break
		}
	}

	u.metrics.RecordUpload(rec.ID, false, attempt)
	u.logger.Error("recording delivery failed",
		"recording", rec.ID, "recipients", rec.Recipients, "attempts", attempt, "error", err)

	f := FailedUpload{
		Recording: rec,
		Bytes:     rec.Bytes(),
		Attempts:  attempt,
		LastError: err.Error(),
		FailedAt:  u.clock.Now(),
	}
	u.mu.Lock()
	u.failed[rec.ID] = f
	hook := u.onFailed
	u.mu.Unlock()

	if hook != nil {
		hook(f)
	}
}

// attempt makes one delivery. A recording the store already holds, for
// example after a commit whose result was lost, counts as delivered.
func (u *Uploader) attempt(ctx context.Context, rec Recording) error {
	_, err := u.store.Deliver(ctx, messages.Clip{
		ID:        rec.ID,
		Host:      u.cfg.Host,
		Format:    rec.Format,
		PCM:       rec.PCM,
		CreatedAt: rec.EndedAt,
	}, rec.Recipients)
	if errors.Is(err, messages.ErrAlreadyDelivered) {
		u.logger.Info("recording was already delivered", "recording", rec.ID)
		return nil
	}
	return err
}

// Failed lists recordings awaiting operator retry, oldest first.
func (u *Uploader) Failed() []FailedUpload {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]FailedUpload, 0, len(u.failed))
	for _, f := range u.failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out
}

// Retry makes one synchronous delivery attempt for a failed recording.
// On success it is removed from the failed list.
func (u *Uploader) Retry(ctx context.Context, id string) error {
	u.mu.RLock()
	f, ok := u.failed[id]
	u.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}

	if err := u.attempt(ctx, f.Recording); err != nil {
		u.mu.Lock()
		if cur, ok := u.failed[id]; ok {
			cur.Attempts++
			cur.LastError = err.Error()
			u.failed[id] = cur
		}
		u.mu.Unlock()
		u.metrics.RecordUpload(id, false, f.Attempts+1)
		return fmt.Errorf("retrying upload %s: %w", id, err)
	}

	u.mu.Lock()
	delete(u.failed, id)
	u.mu.Unlock()
	u.metrics.RecordUpload(id, true, f.Attempts+1)
	u.logger.Info("recording delivered on retry", "recording", id)
	return nil
}

// Shutdown waits for in-flight uploads. If ctx ends first, pending
// backoffs are abandoned and those recordings join the failed list.
func (u *Uploader) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.cancel()
		return nil
	case <-ctx.Done():
		u.cancel()
		<-done
		return ctx.Err()
	}
}
