/*
Package eq implements a biquad equalizer as a sink-source module. It
runs in the low-latency domain by default; a spec can move it to the
deferred-processing domain, where the adapter shuttles audio through DP
queues and the filter runs in its own task.
*/
package eq

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// UUID identifies the eq driver in the component registry.
var UUID = uuid.MustParse("f9b3a462-15a7-4a5b-b30c-4dd1a5a23bd9")

const maxChannels = 8

// Coefficients of one biquad section in direct form 1.
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Passthrough leaves the signal untouched.
var Passthrough = Coefficients{B0: 1}

// Spec is the construction blob of an eq component.
type Spec struct {
	Domain module.Domain
	Coeffs *Coefficients
}

// Driver returns the registry driver for eq components. The scheduling
// domain comes from the spec, so one driver serves both.
func Driver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: UUID,
		Name: "eq",
		Type: component.TypeEQ,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			mcfg := base
			if s, ok := spec.(*Spec); ok && s != nil {
				mcfg.Domain = s.Domain
			}
			return module.NewDevice(component.TypeEQ, cfg, mcfg, &EQ{}, spec)
		},
	}
}

type biquadState struct {
	x1, x2 float64
	y1, y2 float64
}

// EQ is the module state.
type EQ struct {
	coeffs Coefficients
	state  [maxChannels]biquadState
}

func (e *EQ) Init(p *module.Processing) error {
	e.coeffs = Passthrough
	if spec, ok := p.Spec.(*Spec); ok && spec != nil && spec.Coeffs != nil {
		e.coeffs = *spec.Coeffs
	}
	return nil
}

func (e *EQ) Prepare(p *module.Processing, sources []buffer.Source, sinks []buffer.Sink) error {
	if len(sources) != 1 || len(sinks) != 1 {
		return fmt.Errorf("%w: eq is one-in one-out", component.ErrInvalidState)
	}
	if f := sources[0].Format(); f.Channels > maxChannels {
		return fmt.Errorf("%w: eq supports up to %d channels", audio.ErrInvalidFormat, maxChannels)
	}
	return nil
}

func (e *EQ) Reset(*module.Processing) error {
	e.state = [maxChannels]biquadState{}
	return nil
}

func (e *EQ) Free(*module.Processing) error { return nil }

func (e *EQ) ProcessSinkSource(_ *module.Processing, sources []buffer.Source,
	sinks []buffer.Sink) error {

	src := sources[0]
	snk := sinks[0]
	f := src.Format()

	frames := buffer.AvailFrames(src, snk)
	if frames == 0 {
		if src.Available() == 0 {
			return buffer.ErrNoData
		}
		return buffer.ErrNoSpace
	}
	bytes := frames * f.FrameBytes()
	src.Invalidate(bytes)

	var sw, dw audio.Window
	sw.Head, sw.Tail = src.Read(bytes)
	dw.Head, dw.Tail = snk.Write(bytes)

	peak := float64(int64(1)<<(uint(f.ValidBits)-1) - 1)
	for frame := 0; frame < frames; frame++ {
		base := frame * f.FrameBytes()
		for ch := 0; ch < f.Channels; ch++ {
			off := base + ch*f.Container
			x := float64(f.ReadSample(sw, off)) / peak
			y := e.filter(&e.state[ch], x)
			f.SetSample(dw, off, f.Clamp(int64(y*peak)))
		}
	}

	snk.Writeback(bytes)
	if err := snk.Produce(bytes); err != nil {
		return err
	}
	return src.Consume(bytes)
}

func (e *EQ) filter(s *biquadState, x float64) float64 {
	c := e.coeffs
	y := c.B0*x + c.B1*s.x1 + c.B2*s.x2 - c.A1*s.y1 - c.A2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}
