/*
Package tone implements a sine generator. It is a sink-source module
with no inputs: every pass it fills the free space of its sink, up to
one period, with a fixed-frequency tone.
*/
package tone

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

// UUID identifies the tone driver in the component registry.
var UUID = uuid.MustParse("04e3f894-2c5c-4f2e-8dc1-694eeaab53fa")

// Spec is the construction blob of a tone component.
type Spec struct {
	// FrequencyHz of the generated sine; defaults to 997 Hz.
	FrequencyHz float64
	// Amplitude in the range (0, 1]; defaults to 0.5.
	Amplitude float64
}

// Driver returns the registry driver for tone components.
func Driver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: UUID,
		Name: "tone",
		Type: component.TypeTone,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeTone, cfg, base, &Tone{}, spec)
		},
	}
}

// Tone is the module state.
type Tone struct {
	freq      float64
	amplitude float64
	phase     float64
}

func (t *Tone) Init(p *module.Processing) error {
	t.freq = 997
	t.amplitude = 0.5
	if spec, ok := p.Spec.(*Spec); ok && spec != nil {
		if spec.FrequencyHz > 0 {
			t.freq = spec.FrequencyHz
		}
		if spec.Amplitude > 0 && spec.Amplitude <= 1 {
			t.amplitude = spec.Amplitude
		}
	}
	return nil
}

func (t *Tone) Prepare(p *module.Processing, _ []buffer.Source, sinks []buffer.Sink) error {
	if len(sinks) == 0 {
		return fmt.Errorf("%w: tone without a sink", component.ErrInvalidState)
	}
	if f := sinks[0].Format(); t.freq >= float64(f.Rate)/2 {
		return fmt.Errorf("%w: tone %gHz above nyquist of %v", audio.ErrInvalidFormat, t.freq, f)
	}
	return nil
}

func (t *Tone) Reset(*module.Processing) error {
	t.phase = 0
	return nil
}

func (t *Tone) Free(*module.Processing) error { return nil }

func (t *Tone) ProcessSinkSource(p *module.Processing, _ []buffer.Source,
	sinks []buffer.Sink) error {

	snk := sinks[0]
	f := snk.Format()
	n := snk.MinFree()
	if free := snk.Free(); free < n {
		n = free
	}
	frames := n / f.FrameBytes()
	if frames == 0 {
		return buffer.ErrNoSpace
	}
	bytes := frames * f.FrameBytes()

	var w audio.Window
	w.Head, w.Tail = snk.Write(bytes)
	step := 2 * math.Pi * t.freq / float64(f.Rate)
	peak := float64(int64(1)<<(uint(f.ValidBits)-1) - 1)
	for frame := 0; frame < frames; frame++ {
		v := int32(t.amplitude * peak * math.Sin(t.phase))
		base := frame * f.FrameBytes()
		for ch := 0; ch < f.Channels; ch++ {
			f.SetSample(w, base+ch*f.Container, v)
		}
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	snk.Writeback(bytes)
	return snk.Produce(bytes)
}

// SetConfiguration accepts the frequency in millihertz as 4 bytes LE.
func (t *Tone) SetConfiguration(_ *module.Processing, _ uint32,
	pos component.FragmentPosition, _ int, frag []byte) error {

	if pos != component.FragmentSingle {
		return fmt.Errorf("%w: tone config is not fragmented", component.ErrNotSupported)
	}
	if len(frag) < 4 {
		return fmt.Errorf("%w: tone config needs 4 bytes", component.ErrInvalidState)
	}
	mhz := binary.LittleEndian.Uint32(frag)
	if mhz == 0 {
		return fmt.Errorf("%w: zero frequency", component.ErrInvalidState)
	}
	t.freq = float64(mhz) / 1000
	return nil
}

// GetConfiguration reports the frequency in millihertz.
func (t *Tone) GetConfiguration(_ *module.Processing, _ component.FragmentPosition,
	buf []byte) (int, error) {

	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: tone config needs 4 bytes", component.ErrInvalidState)
	}
	binary.LittleEndian.PutUint32(buf, uint32(t.freq*1000))
	return 4, nil
}
