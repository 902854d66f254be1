package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format describes raw interleaved PCM.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mono16 returns signed 16-bit mono at rate.
func Mono16(rate int) Format {
	return Format{SampleRate: rate, Channels: 1, BitDepth: 16}
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.SampleRate * f.BytesPerFrame()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Tag is the stored format label, e.g. "raw_s16le_22050_mono".
func (f Format) Tag() string {
	layout := "mono"
	if f.Channels == 2 {
		layout = "stereo"
	}
	return fmt.Sprintf("raw_s%dle_%d_%s", f.BitDepth, f.SampleRate, layout)
}

// ParseTag is the inverse of Tag.
func ParseTag(tag string) (Format, error) {
	parts := strings.Split(tag, "_")
	if len(parts) != 4 || parts[0] != "raw" {
		return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
	}

	depth := strings.TrimSuffix(strings.TrimPrefix(parts[1], "s"), "le")
	bits, err := strconv.Atoi(depth)
	if err != nil || bits != 16 {
		return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
	}
	rate, err := strconv.Atoi(parts[2])
	if err != nil || rate <= 0 {
		return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
	}

	var channels int
	switch parts[3] {
	case "mono":
		channels = 1
	case "stereo":
		channels = 2
	default:
		return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
	}
	return Format{SampleRate: rate, Channels: channels, BitDepth: bits}, nil
}
