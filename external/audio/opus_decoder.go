//go:build opus

package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/foxseedlab/emasr/internal/audio"
	"github.com/hraban/opus"
)

const (
	channels = 1
	// 120ms is the longest frame an opus packet may carry.
	maxFrameMs = 120
)

type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

func NewOpusDecoder(sampleRate int) (audio.Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder at %d Hz: %w", sampleRate, err)
	}
	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, sampleRate*maxFrameMs*channels/1000),
	}, nil
}

func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, nil
	}
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return writePCM(d.pcm[:n*channels]), nil
}

func (d *OpusDecoder) Close() {
	d.dec = nil
}

func writePCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
