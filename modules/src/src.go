/*
Package src implements a sample-rate converter as a raw-data module.
The converter works on linear scratch buffers in windows of several
periods, which exercises the adapter's deep buffering: until one input
window is gathered the graph downstream is fed silence.

The kernel is a linear interpolator; it trades quality for a bounded
processing window, which is what the runtime cares about.
*/
package src

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// UUID identifies the src driver in the component registry.
var UUID = uuid.MustParse("c1c5326d-8390-46b4-aa47-95c3beca6550")

const maxChannels = 8

// Spec is the construction blob of an src component.
type Spec struct {
	InRate  int
	OutRate int
	// WindowPeriods is the input window in periods; defaults to 3.
	WindowPeriods int
}

// Driver returns the registry driver for src components.
func Driver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: UUID,
		Name: "src",
		Type: component.TypeSRC,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeSRC, cfg, base, &SRC{}, spec)
		},
	}
}

// SRC is the module state.
type SRC struct {
	inRate  int
	outRate int
	windows int

	ratio   float64
	phase   float64
	history [maxChannels]int32
	primed  bool
}

func (s *SRC) Init(p *module.Processing) error {
	spec, ok := p.Spec.(*Spec)
	if !ok || spec == nil || spec.InRate <= 0 || spec.OutRate <= 0 {
		return fmt.Errorf("%w: src needs input and output rates", component.ErrInvalidState)
	}
	s.inRate = spec.InRate
	s.outRate = spec.OutRate
	s.windows = spec.WindowPeriods
	if s.windows <= 0 {
		s.windows = 3
	}
	s.ratio = float64(s.inRate) / float64(s.outRate)
	return nil
}

func (s *SRC) Prepare(p *module.Processing, _ []buffer.Source, _ []buffer.Sink) error {
	if p.Params == nil {
		return fmt.Errorf("%w: src prepared without params", component.ErrInvalidState)
	}
	f := *p.Params
	if f.Rate != s.inRate {
		return fmt.Errorf("%w: stream at %d Hz, converter input %d Hz",
			audio.ErrInvalidFormat, f.Rate, s.inRate)
	}
	if f.Channels > maxChannels {
		return fmt.Errorf("%w: src supports up to %d channels", audio.ErrInvalidFormat, maxChannels)
	}

	period := p.Dev.Frames * f.FrameBytes()
	p.InBuffSize = s.windows * period

	outFrames := int(math.Ceil(float64(s.windows*p.Dev.Frames)*float64(s.outRate)/float64(s.inRate))) + 1
	p.OutBuffSize = outFrames * f.FrameBytes()

	s.phase = 0
	s.primed = false
	return nil
}

func (s *SRC) Reset(*module.Processing) error {
	s.phase = 0
	s.primed = false
	s.history = [maxChannels]int32{}
	return nil
}

func (s *SRC) Free(*module.Processing) error { return nil }

func (s *SRC) ProcessRawData(p *module.Processing, in []*module.RawBuffer,
	out []*module.RawBuffer) error {

	if len(in) == 0 || len(out) == 0 {
		return nil
	}
	input := in[0]
	output := out[0]
	if input.Size == 0 {
		return buffer.ErrNoData
	}
	f := *p.Params
	fb := f.FrameBytes()
	inFrames := input.Size / fb
	if inFrames == 0 {
		return buffer.ErrNoData
	}

	maxOutFrames := len(output.Data) / fb
	sw := audio.Window{Head: input.Data[:inFrames*fb]}
	dw := audio.Window{Head: output.Data}

	if !s.primed {
		for ch := 0; ch < f.Channels; ch++ {
			s.history[ch] = f.ReadSample(sw, ch*f.Container)
		}
		s.primed = true
	}

	outIdx := 0
	pos := s.phase
	for ; pos < float64(inFrames) && outIdx < maxOutFrames; pos += s.ratio {
		i := int(math.Floor(pos))
		frac := pos - float64(i)
		for ch := 0; ch < f.Channels; ch++ {
			s0 := s.frameSample(f, sw, i, ch)
			s1 := s.frameSample(f, sw, i+1, ch)
			if i+1 >= inFrames {
				s1 = s0
			}
			v := float64(s0) + frac*float64(s1-s0)
			f.SetSample(dw, outIdx*fb+ch*f.Container, f.Clamp(int64(v)))
		}
		outIdx++
	}
	s.phase = pos - float64(inFrames)

	for ch := 0; ch < f.Channels; ch++ {
		s.history[ch] = f.ReadSample(sw, (inFrames-1)*fb+ch*f.Container)
	}

	input.Consumed = inFrames * fb
	output.Size = outIdx * fb
	return nil
}

// frameSample reads channel ch of input frame i; frame -1 is the last
// frame of the previous window.
func (s *SRC) frameSample(f audio.Format, w audio.Window, i, ch int) int32 {
	if i < 0 {
		return s.history[ch]
	}
	return f.ReadSample(w, i*f.FrameBytes()+ch*f.Container)
}

// SetConfiguration accepts the output rate as 4 bytes LE.
func (s *SRC) SetConfiguration(_ *module.Processing, _ uint32,
	pos component.FragmentPosition, _ int, frag []byte) error {

	if pos != component.FragmentSingle {
		return fmt.Errorf("%w: src config is not fragmented", component.ErrNotSupported)
	}
	if len(frag) < 4 {
		return fmt.Errorf("%w: src config needs 4 bytes", component.ErrInvalidState)
	}
	rate := binary.LittleEndian.Uint32(frag)
	if rate == 0 {
		return fmt.Errorf("%w: zero output rate", component.ErrInvalidState)
	}
	s.outRate = int(rate)
	s.ratio = float64(s.inRate) / float64(s.outRate)
	return nil
}

// GetConfiguration reports the output rate.
func (s *SRC) GetConfiguration(_ *module.Processing, _ component.FragmentPosition,
	buf []byte) (int, error) {

	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: src config needs 4 bytes", component.ErrInvalidState)
	}
	binary.LittleEndian.PutUint32(buf, uint32(s.outRate))
	return 4, nil
}
