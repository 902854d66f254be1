package hardware

import (
	"context"
	"time"
)

// Spin runs the boot animation: one lit pixel walking along count lights
// every interval until ctx is cancelled, then every light is switched off.
// Errors from the sink are ignored; the animation is cosmetic.
func Spin(ctx context.Context, lights LightSink, count int, interval time.Duration) {
	if count <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	i := 0
	for {
		_ = lights.SetColor(i, ColorUnread) //nolint:errcheck // Cosmetic

		select {
		case <-ctx.Done():
			for j := 0; j < count; j++ {
				_ = lights.SetColor(j, ColorOff) //nolint:errcheck // Cosmetic
			}
			return
		case <-ticker.C:
		}

		_ = lights.SetColor(i, ColorOff) //nolint:errcheck // Cosmetic
		i = (i + 1) % count
	}
}

// Scan polls pins every interval and calls onPress on each released to
// pressed edge. It returns when ctx is cancelled. Used by the button
// diagnostic to find which pin a physical button is wired to.
func Scan(ctx context.Context, buttons ButtonSource, pins []int, interval time.Duration, onPress func(pin int)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[int]bool, len(pins))
	for {
		for _, pin := range pins {
			pressed, err := buttons.IsPressed(pin)
			if err != nil {
				return err
			}
			if pressed && !last[pin] {
				onPress(pin)
			}
			last[pin] = pressed
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
