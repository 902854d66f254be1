package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Player plays raw PCM and returns when playback has finished.
type Player interface {
	Play(ctx context.Context, pcm []byte, f Format) error
}

// CommandPlayer pipes PCM into an external command such as aplay.
type CommandPlayer struct {
	Binary string
	Args   []string
}

// Play runs the command with pcm on stdin and waits for it to exit.
func (p CommandPlayer) Play(ctx context.Context, pcm []byte, _ Format) error {
	cmd := exec.CommandContext(ctx, p.Binary, p.Args...) //nolint:gosec // Binary comes from operator config
	cmd.Stdin = bytes.NewReader(pcm)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w: %s", p.Binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// SleepPlayer stands in for a speaker: it blocks for the clip length.
type SleepPlayer struct{}

// Play waits for the duration of pcm or until ctx is cancelled.
func (SleepPlayer) Play(ctx context.Context, pcm []byte, f Format) error {
	timer := time.NewTimer(f.Duration(len(pcm)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
