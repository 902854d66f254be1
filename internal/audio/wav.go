package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format code for integer PCM.
const wavFormatPCM = 1

// EncodeWAV wraps 16-bit little-endian pcm in a RIFF/WAVE container. A
// trailing odd byte is dropped.
func EncodeWAV(f Format, pcm []byte) ([]byte, error) {
	if f.BitDepth != 16 || f.Channels < 1 || f.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f.Tag())
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.Channels, wavFormatPCM)
	// The header is written on the first Write, so an empty clip still
	// goes through it.
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           samples,
		SourceBitDepth: f.BitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalising wav: %w", err)
	}
	return out.buf, nil
}

// WriteWAV encodes pcm and writes the file to w.
func WriteWAV(w io.Writer, f Format, pcm []byte) error {
	data, err := EncodeWAV(f, pcm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing wav: %w", err)
	}
	return nil
}

// seekBuffer is an in-memory io.WriteSeeker. The encoder seeks back to
// patch the RIFF and data sizes once the samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	b.pos = int(next)
	return next, nil
}
