/*
Package gain implements a volume module: an audio-stream processor that
scales samples by a Q16 fixed-point coefficient with a linear ramp
between settings.
*/
package gain

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// UUID identifies the gain driver in the component registry.
var UUID = uuid.MustParse("5150c0e2-9a14-4c45-9b1d-7271f16d41e4")

// Unity is the Q16 coefficient that leaves samples untouched.
const Unity = 1 << 16

// Spec is the construction blob of a gain component.
type Spec struct {
	// Initial Q16 coefficient; zero means unity.
	Initial uint32
	// RampFrames spreads a coefficient change over this many frames.
	RampFrames int
}

// Driver returns the registry driver for gain components.
func Driver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: UUID,
		Name: "gain",
		Type: component.TypeVolume,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeVolume, cfg, base, &Gain{}, spec)
		},
	}
}

// Gain is the module state.
type Gain struct {
	current int64 // Q16
	target  int64 // Q16
	step    int64 // Q16 per frame
	ramp    int
}

func (g *Gain) Init(p *module.Processing) error {
	spec, _ := p.Spec.(*Spec)
	g.current = Unity
	g.target = Unity
	if spec != nil {
		if spec.Initial != 0 {
			g.current = int64(spec.Initial)
			g.target = g.current
		}
		g.ramp = spec.RampFrames
	}
	return nil
}

func (g *Gain) Prepare(p *module.Processing, _ []buffer.Source, _ []buffer.Sink) error {
	if p.Params == nil {
		return fmt.Errorf("%w: gain prepared without params", component.ErrInvalidState)
	}
	switch p.Params.Container {
	case 2, 4:
		return nil
	}
	return fmt.Errorf("%w: gain needs 16 or 32 bit containers", audio.ErrInvalidFormat)
}

func (g *Gain) Reset(p *module.Processing) error {
	spec, _ := p.Spec.(*Spec)
	g.current = Unity
	if spec != nil && spec.Initial != 0 {
		g.current = int64(spec.Initial)
	}
	g.target = g.current
	g.step = 0
	return nil
}

func (g *Gain) Free(*module.Processing) error { return nil }

func (g *Gain) ProcessAudioStream(p *module.Processing, in []*module.StreamInput,
	out []*module.StreamOutput) error {

	if len(in) == 0 || len(out) == 0 {
		return nil
	}
	src := in[0]
	snk := out[0]
	if src.Frames == 0 {
		return buffer.ErrNoData
	}
	f := src.Source.Format()
	bytes := src.Frames * f.FrameBytes()

	var sw, dw audio.Window
	sw.Head, sw.Tail = src.Source.Read(bytes)
	dw.Head, dw.Tail = snk.Sink.Write(bytes)

	for frame := 0; frame < src.Frames; frame++ {
		base := frame * f.FrameBytes()
		for ch := 0; ch < f.Channels; ch++ {
			off := base + ch*f.Container
			s := int64(f.ReadSample(sw, off))
			f.SetSample(dw, off, f.Clamp(s*g.current>>16))
		}
		g.advance()
	}

	src.Consumed = bytes
	snk.Produced = bytes
	return nil
}

// advance moves the ramp one frame toward the target.
func (g *Gain) advance() {
	if g.current == g.target {
		return
	}
	next := g.current + g.step
	if (g.step > 0 && next >= g.target) || (g.step < 0 && next <= g.target) {
		g.current = g.target
		g.step = 0
		return
	}
	g.current = next
}

// SetConfiguration accepts a 4-byte little-endian Q16 coefficient.
func (g *Gain) SetConfiguration(_ *module.Processing, _ uint32,
	pos component.FragmentPosition, _ int, frag []byte) error {

	if pos != component.FragmentSingle {
		return fmt.Errorf("%w: gain config is not fragmented", component.ErrNotSupported)
	}
	if len(frag) < 4 {
		return fmt.Errorf("%w: gain config needs 4 bytes", component.ErrInvalidState)
	}
	g.target = int64(binary.LittleEndian.Uint32(frag))
	if g.ramp > 0 {
		g.step = (g.target - g.current) / int64(g.ramp)
		if g.step == 0 && g.target != g.current {
			if g.target > g.current {
				g.step = 1
			} else {
				g.step = -1
			}
		}
	} else {
		g.current = g.target
	}
	return nil
}

// GetConfiguration reports the current Q16 coefficient.
func (g *Gain) GetConfiguration(_ *module.Processing, _ component.FragmentPosition,
	buf []byte) (int, error) {

	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: gain config needs 4 bytes", component.ErrInvalidState)
	}
	binary.LittleEndian.PutUint32(buf, uint32(g.current))
	return 4, nil
}
