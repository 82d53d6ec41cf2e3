package endpoint

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/component"
)

// LoadWAV decodes a WAV stream and feeds the PCM into the host ring,
// the way the test bench primes playback without a live host driver.
// The decoded audio must match the negotiated stream parameters.
func (h *Host) LoadWAV(r io.ReadSeeker) (int, error) {
	if h.ring == nil {
		return 0, fmt.Errorf("%w: host ring not configured", component.ErrInvalidState)
	}
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: not a wav stream", audio.ErrInvalidFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, err
	}

	f := h.ring.Format()
	if pcm.Format.SampleRate != f.Rate || pcm.Format.NumChannels != f.Channels {
		return 0, fmt.Errorf("%w: wav is %dHz/%dch, stream %v",
			audio.ErrInvalidFormat, pcm.Format.SampleRate, pcm.Format.NumChannels, f)
	}

	b, err := audio.EncodeInt(f, pcm)
	if err != nil {
		return 0, err
	}
	return h.Feed(b)
}
