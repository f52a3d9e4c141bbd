package audio

import (
	"github.com/foxseedlab/emasr/internal/audio"
)

// NewDecoder builds the decoder for a normalized wav_format.
func NewDecoder(format string, sampleRate int) (audio.Decoder, error) {
	format, err := audio.NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if format == audio.FormatOpus {
		return NewOpusDecoder(sampleRate)
	}
	return audio.PCMPassthrough{}, nil
}
