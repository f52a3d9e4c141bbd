// Package audio converts client audio payloads into 16-bit little-endian
// mono PCM.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

const (
	FormatPCM  = "pcm"
	FormatOpus = "opus"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns one binary frame into PCM. A Decoder belongs to a single
// connection and is not safe for concurrent use.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
	Close()
}

type DecoderFactory func(format string, sampleRate int) (Decoder, error)

// NormalizeFormat folds the wav_format aliases clients send onto the
// formats the server decodes.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pcm", "wav", "s16le":
		return FormatPCM, nil
	case "opus":
		return FormatOpus, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// PCMPassthrough copies frames unchanged.
type PCMPassthrough struct{}

func (PCMPassthrough) Decode(frame []byte) ([]byte, error) {
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("pcm frame has odd length %d", len(frame))
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

func (PCMPassthrough) Close() {}
