// Package hardware abstracts the per-station button and status light.
//
// Two drivers are provided:
//   - Board: an in-process button/light table for simulation and tests
//   - Panel: a remote GPIO/NeoPixel panel reached over MQTT
//
// Both implement ButtonSource and LightSink. Button state is debounced by
// whatever sits behind the driver; callers only poll IsPressed.
package hardware
