package audio

import (
	"encoding/binary"
	"math"
)

const maxSample = math.MaxInt16

// Normalize scales 16-bit little-endian PCM so its loudest sample peaks
// at gainDB relative to full scale (0 = full scale, -6 = half). Silent
// input is returned unchanged. A trailing odd byte is dropped.
func Normalize(pcm []byte, gainDB float64) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*2)

	peak := 0
	for i := 0; i < n; i++ {
		s := int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		copy(out, pcm[:n*2])
		return out
	}

	scale := maxSample * math.Pow(10, gainDB/20) / float64(peak)
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		v := math.Round(s * scale)
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Peak returns the loudest sample magnitude as a fraction of full scale.
func Peak(pcm []byte) float64 {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / maxSample
}
