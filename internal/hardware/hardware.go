package hardware

import (
	"errors"
	"fmt"
)

// RGB is a light colour with 8-bit channels.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Station light colours.
var (
	ColorOff       = RGB{0, 0, 0}
	ColorListening = RGB{0, 128, 0}
	ColorRecording = RGB{255, 0, 0}
	ColorAuth      = RGB{0, 0, 128}
	ColorUnread    = RGB{128, 128, 128}
)

// ButtonSource reports whether the button wired to pin is held down.
type ButtonSource interface {
	IsPressed(pin int) (bool, error)
}

// LightSink sets the colour of the light at index. Fire-and-forget.
type LightSink interface {
	SetColor(index int, color RGB) error
}

// ErrInvalidPin is returned for negative pins or light indexes.
var ErrInvalidPin = errors.New("hardware: invalid pin or index")
