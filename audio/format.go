// Package audio defines stream parameters and PCM frame math shared by
// buffers, components and modules.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// SampleType describes the numeric encoding of a sample container.
type SampleType uint8

const (
	// Signed is two's-complement integer PCM.
	Signed SampleType = iota
	// Unsigned is offset-binary integer PCM.
	Unsigned
	// Float is IEEE-754 float PCM.
	Float
)

func (s SampleType) String() string {
	switch s {
	case Signed:
		return "signed"
	case Unsigned:
		return "unsigned"
	case Float:
		return "float"
	}
	return fmt.Sprintf("sample(%d)", uint8(s))
}

// ErrInvalidFormat is returned when stream parameters are rejected.
var ErrInvalidFormat = errors.New("invalid stream format")

// Format holds the stream parameters of an audio buffer.
type Format struct {
	Rate      int
	Channels  int
	Container int // bytes per sample container
	ValidBits int
	Sample    SampleType
}

// Common formats.
func S16LE(rate, channels int) Format {
	return Format{Rate: rate, Channels: channels, Container: 2, ValidBits: 16, Sample: Signed}
}

func S24LE(rate, channels int) Format {
	return Format{Rate: rate, Channels: channels, Container: 4, ValidBits: 24, Sample: Signed}
}

func S32LE(rate, channels int) Format {
	return Format{Rate: rate, Channels: channels, Container: 4, ValidBits: 32, Sample: Signed}
}

// FrameBytes returns the size of one frame across all channels.
func (f Format) FrameBytes() int {
	return f.Channels * f.Container
}

// PeriodBytes returns the byte size of the given number of frames.
func (f Format) PeriodBytes(frames int) int {
	return frames * f.FrameBytes()
}

// Frames returns how many whole frames fit in n bytes.
func (f Format) Frames(n int) int {
	fb := f.FrameBytes()
	if fb == 0 {
		return 0
	}
	return n / fb
}

// Duration returns the play time of the given number of frames.
func (f Format) Duration(frames int) time.Duration {
	if f.Rate == 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(f.Rate) * float64(time.Second))
}

// Validate rejects parameters that no component can operate on.
func (f Format) Validate() error {
	switch {
	case f.Rate <= 0:
		return fmt.Errorf("%w: rate %d", ErrInvalidFormat, f.Rate)
	case f.Channels <= 0:
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	case f.Container != 1 && f.Container != 2 && f.Container != 3 && f.Container != 4:
		return fmt.Errorf("%w: container %d bytes", ErrInvalidFormat, f.Container)
	case f.ValidBits <= 0 || f.ValidBits > 8*f.Container:
		return fmt.Errorf("%w: %d valid bits in %d byte container", ErrInvalidFormat, f.ValidBits, f.Container)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%d-in-%d-bit", f.Rate, f.Channels, f.ValidBits, 8*f.Container)
}
