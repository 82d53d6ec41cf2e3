package audio

import (
	"fmt"

	goaudio "github.com/go-audio/audio"
)

// DecodeInt unpacks little-endian integer PCM bytes into an
// audio.IntBuffer. Partial trailing frames are dropped.
func DecodeInt(f Format, b []byte) (*goaudio.IntBuffer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Sample == Float {
		return nil, fmt.Errorf("%w: float samples cannot decode to int buffer", ErrInvalidFormat)
	}
	frames := f.Frames(len(b))
	data := make([]int, frames*f.Channels)
	for i := range data {
		data[i] = decodeSample(f, b[i*f.Container:])
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.Rate},
		Data:           data,
		SourceBitDepth: f.ValidBits,
	}, nil
}

// EncodeInt packs an audio.IntBuffer into little-endian integer PCM bytes
// of the given format.
func EncodeInt(f Format, ib *goaudio.IntBuffer) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if ib.Format != nil && ib.Format.NumChannels != f.Channels {
		return nil, fmt.Errorf("%w: buffer has %d channels, format %d",
			ErrInvalidFormat, ib.Format.NumChannels, f.Channels)
	}
	b := make([]byte, len(ib.Data)*f.Container)
	for i, s := range ib.Data {
		encodeSample(f, b[i*f.Container:], s)
	}
	return b, nil
}

func decodeSample(f Format, b []byte) int {
	var v uint32
	for i := 0; i < f.Container; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	if f.Sample == Unsigned {
		return int(v)
	}
	// sign-extend from valid bits
	shift := 32 - uint(f.ValidBits)
	return int(int32(v<<shift) >> shift)
}

func encodeSample(f Format, b []byte, s int) {
	v := uint32(int32(s))
	if f.ValidBits < 8*f.Container && f.Sample == Signed {
		mask := uint32(1)<<uint(f.ValidBits) - 1
		v &= mask
	}
	for i := 0; i < f.Container; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
