package hardware

import (
	"fmt"
	"sync"
)

// Board is an in-memory button and light table.
//
// Tests and the "sim" driver press buttons with Press/Release and read
// lights back with Color. An optional fault makes IsPressed fail, to
// exercise the transient-read path.
type Board struct {
	mu      sync.RWMutex
	pressed map[int]bool
	lights  map[int]RGB
	writes  int
	readErr error
}

// NewBoard creates an empty board with every button released and every light off.
func NewBoard() *Board {
	return &Board{
		pressed: make(map[int]bool),
		lights:  make(map[int]RGB),
	}
}

// IsPressed implements ButtonSource.
func (b *Board) IsPressed(pin int) (bool, error) {
	if pin < 0 {
		return false, fmt.Errorf("%w: pin %d", ErrInvalidPin, pin)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.readErr != nil {
		return false, b.readErr
	}
	return b.pressed[pin], nil
}

// SetColor implements LightSink.
func (b *Board) SetColor(index int, color RGB) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrInvalidPin, index)
	}
	b.mu.Lock()
	b.lights[index] = color
	b.writes++
	b.mu.Unlock()
	return nil
}

// Press holds the button on pin down.
func (b *Board) Press(pin int) {
	b.set(pin, true)
}

// Release lets the button on pin up.
func (b *Board) Release(pin int) {
	b.set(pin, false)
}

func (b *Board) set(pin int, pressed bool) {
	b.mu.Lock()
	b.pressed[pin] = pressed
	b.mu.Unlock()
}

// Color returns the last colour written to index.
func (b *Board) Color(index int) RGB {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lights[index]
}

// Writes returns how many SetColor calls the board has received.
func (b *Board) Writes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writes
}

// FailReads makes every IsPressed return err until called with nil.
func (b *Board) FailReads(err error) {
	b.mu.Lock()
	b.readErr = err
	b.mu.Unlock()
}
