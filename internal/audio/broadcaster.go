package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Broadcaster reads one PCM stream in fixed-size chunks and appends a copy
// of every chunk to each joined Tap.
//
// Chunks are numbered from 1 in capture order. A Tap joined while chunk N
// is the latest captured receives chunks N+1 onward and never anything
// earlier. Delivery is an in-memory append, so a slow or idle station
// never stalls the capture loop.
//
// Thread Safety:
//   - Join and Leave may be called from any goroutine while Run is active.
type Broadcaster struct {
	chunkSize int

	mu       sync.RWMutex
	taps     map[*Tap]struct{}
	captured atomic.Uint64
}

// Tap accumulates the chunks delivered to one subscriber.
type Tap struct {
	first uint64

	mu     sync.Mutex
	buf    []byte
	chunks int
}

// NewBroadcaster creates a broadcaster that reads chunkSize bytes at a time.
func NewBroadcaster(chunkSize int) *Broadcaster {
	return &Broadcaster{
		chunkSize: chunkSize,
		taps:      make(map[*Tap]struct{}),
	}
}

// Join registers a new Tap for every chunk captured from now on.
func (b *Broadcaster) Join() *Tap {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &Tap{first: b.captured.Load() + 1}
	b.taps[t] = struct{}{}
	return t
}

// Leave deregisters t and returns everything it received. Leaving twice
// is harmless.
func (b *Broadcaster) Leave(t *Tap) []byte {
	b.mu.Lock()
	delete(b.taps, t)
	b.mu.Unlock()

	return t.Bytes()
}

// Subscribers returns the number of joined taps.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.taps)
}

// Captured returns the number of chunks read so far.
func (b *Broadcaster) Captured() uint64 {
	return b.captured.Load()
}

// Run reads r until EOF, a read error, or ctx is cancelled. A short final
// chunk is still delivered. Cancellation is checked between reads; to
// unblock a pending read, close r.
func (b *Broadcaster) Run(ctx context.Context, r io.Reader) error {
	if b.chunkSize <= 0 {
		return fmt.Errorf("audio: invalid chunk size %d", b.chunkSize)
	}

	chunk := make([]byte, b.chunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := io.ReadFull(r, chunk)
		if n > 0 {
			b.publish(chunk[:n])
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading capture stream: %w", err)
		}
	}
}

// publish numbers the chunk and delivers it under the read lock, so Join
// (write lock) always lands strictly between two chunks.
func (b *Broadcaster) publish(chunk []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seq := b.captured.Add(1)
	for t := range b.taps {
		if seq >= t.first {
			t.append(chunk)
		}
	}
}

func (t *Tap) append(chunk []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, chunk...)
	t.chunks++
	t.mu.Unlock()
}

// Bytes returns a copy of everything received so far.
func (t *Tap) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

// Chunks returns the number of chunks received.
func (t *Tap) Chunks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}

// First is the sequence number of the first chunk this tap may receive.
func (t *Tap) First() uint64 {
	return t.first
}
