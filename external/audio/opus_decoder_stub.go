//go:build !opus

package audio

import (
	"fmt"

	"github.com/foxseedlab/emasr/internal/audio"
)

// NewOpusDecoder reports opus as unsupported in builds without libopus.
func NewOpusDecoder(_ int) (audio.Decoder, error) {
	return nil, fmt.Errorf("%w: opus (built without the opus tag)", audio.ErrUnsupportedFormat)
}
