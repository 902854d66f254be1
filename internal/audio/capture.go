package audio

import (
	"context"
	"io"

	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/process"
)

// Capture runs the capture command under a process.Manager and feeds its
// stdout into a Broadcaster. The command is restarted if it dies; the
// Broadcaster sees one continuous stream.
type Capture struct {
	manager     *process.Manager
	broadcaster *Broadcaster
	reader      *io.PipeReader
	writer      *io.PipeWriter
}

// NewCapture prepares a capture supervisor. Nothing starts until Run.
func NewCapture(cfg config.CaptureConfig, b *Broadcaster, logger process.Logger) *Capture {
	pr, pw := io.Pipe()

	pcfg := process.DefaultConfig("capture", cfg.Binary, cfg.Args)
	pcfg.Stdout = pw
	if cfg.RestartDelay > 0 {
		pcfg.RestartDelay = cfg.RestartDelay
	}
	pcfg.MaxRestartAttempts = cfg.MaxRestartAttempts

	m := process.NewManager(pcfg)
	if logger != nil {
		m.SetLogger(logger)
	}

	return &Capture{
		manager:     m,
		broadcaster: b,
		reader:      pr,
		writer:      pw,
	}
}

// Run starts the command and blocks in the broadcaster loop until ctx is
// cancelled. It returns ErrCaptureStopped if the command exhausts its
// restart attempts.
func (c *Capture) Run(ctx context.Context) error {
	if err := c.manager.Start(ctx); err != nil {
		c.writer.Close() //nolint:errcheck // Pipe close cannot fail
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			// Closing the writer first unblocks any pending copy into the
			// pipe so the process can be reaped.
			c.writer.Close() //nolint:errcheck // Pipe close cannot fail
			c.manager.Stop() //nolint:errcheck // Shutdown path
		case <-c.manager.Done():
			c.writer.CloseWithError(ErrCaptureStopped) //nolint:errcheck // Pipe close cannot fail
		}
	}()

	return c.broadcaster.Run(ctx, c.reader)
}

// Stats reports the capture command's supervisor state.
func (c *Capture) Stats() process.Stats {
	return c.manager.Stats()
}
