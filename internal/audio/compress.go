package audio

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Blob encodings.
const (
	EncodingRaw  = "raw"
	EncodingZstd = "zstd"
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("audio: creating zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("audio: creating zstd decoder: " + err.Error())
	}
}

// Encode returns pcm in the given blob encoding.
func Encode(encoding string, pcm []byte) ([]byte, error) {
	switch encoding {
	case EncodingRaw, "":
		return pcm, nil
	case EncodingZstd:
		return zstdEncoder.EncodeAll(pcm, make([]byte, 0, len(pcm)/2)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// Decode reverses Encode.
func Decode(encoding string, blob []byte) ([]byte, error) {
	switch encoding {
	case EncodingRaw, "":
		return blob, nil
	case EncodingZstd:
		pcm, err := zstdDecoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression: %w", err)
		}
		return pcm, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}
