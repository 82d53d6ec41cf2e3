/*
Package mixer implements the fan-in and fan-out modules of the graph.

MixOut sums up to eight source streams into one sink, scaling each
input by a per-pin Q16 coefficient. While no source participates in a
pass it keeps the sink fed with silence so the downstream DAI never
starves. MixIn duplicates one source into up to eight sinks; sinks in a
different lifecycle state are skipped by the adapter.
*/
package mixer

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// Driver UUIDs in the component registry.
var (
	OutUUID = uuid.MustParse("bc06c037-12aa-417c-9a97-89282e321a76")
	InUUID  = uuid.MustParse("39656eb2-3b71-4049-8aab-ea88b0b53cad")
)

const maxPins = 8

// OutDriver returns the registry driver for mixout components.
func OutDriver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: OutUUID,
		Name: "mixout",
		Type: component.TypeMixOut,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeMixOut, cfg, base, &MixOut{}, spec)
		},
	}
}

// InDriver returns the registry driver for mixin components.
func InDriver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: InUUID,
		Name: "mixin",
		Type: component.TypeMixIn,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeMixIn, cfg, base, &MixIn{}, spec)
		},
	}
}

// MixOut sums its sources into a single sink.
type MixOut struct {
	// coeff holds the Q16 coefficient per source pin.
	coeff [maxPins]int64

	// per-pass scratch, sized once so the copy path never allocates
	windows [maxPins]audio.Window
	active  [maxPins]*module.StreamInput
}

func (m *MixOut) Init(p *module.Processing) error {
	p.MaxSources = maxPins
	for i := range m.coeff {
		m.coeff[i] = 1 << 16
	}
	return nil
}

func (m *MixOut) Prepare(p *module.Processing, _ []buffer.Source, _ []buffer.Sink) error {
	if p.Params == nil {
		return fmt.Errorf("%w: mixout prepared without params", component.ErrInvalidState)
	}
	return nil
}

func (m *MixOut) Reset(*module.Processing) error { return nil }
func (m *MixOut) Free(*module.Processing) error  { return nil }

func (m *MixOut) ProcessAudioStream(p *module.Processing, in []*module.StreamInput,
	out []*module.StreamOutput) error {

	if len(out) == 0 {
		return nil
	}
	snk := out[0].Sink
	f := snk.Format()

	// participating inputs: those the adapter offered this pass
	frames := -1
	active := m.active[:0]
	for _, src := range in {
		if src.Source == nil {
			continue
		}
		active = append(active, src)
		if frames < 0 || src.Frames < frames {
			frames = src.Frames
		}
	}

	// with no live source keep producing silence, one period at a time
	if len(active) == 0 || frames <= 0 {
		n := p.PeriodBytes
		if free := snk.Free(); n > free {
			n = free
		}
		if n > 0 {
			var w audio.Window
			w.Head, w.Tail = snk.Write(n)
			zero(w)
			out[0].Produced = n
		}
		return nil
	}

	bytes := frames * f.FrameBytes()
	var dw audio.Window
	dw.Head, dw.Tail = snk.Write(bytes)

	windows := m.windows[:len(active)]
	for i, src := range active {
		windows[i].Head, windows[i].Tail = src.Source.Read(bytes)
	}

	for frame := 0; frame < frames; frame++ {
		base := frame * f.FrameBytes()
		for ch := 0; ch < f.Channels; ch++ {
			off := base + ch*f.Container
			var sum int64
			for i, src := range active {
				c := m.coeff[pinOf(p, src)]
				sum += int64(f.ReadSample(windows[i], off)) * c >> 16
			}
			f.SetSample(dw, off, f.Clamp(sum))
		}
	}

	for _, src := range active {
		src.Consumed = bytes
	}
	out[0].Produced = bytes
	return nil
}

// pinOf maps a stream input back to its pin index.
func pinOf(p *module.Processing, src *module.StreamInput) int {
	for i, b := range p.Dev.Sources {
		if b.Source() == src.Source {
			return i
		}
	}
	return 0
}

func zero(w audio.Window) {
	for i := range w.Head {
		w.Head[i] = 0
	}
	for i := range w.Tail {
		w.Tail[i] = 0
	}
}

// SetConfiguration accepts pin (4 bytes LE) followed by a Q16
// coefficient (4 bytes LE).
func (m *MixOut) SetConfiguration(_ *module.Processing, _ uint32,
	pos component.FragmentPosition, _ int, frag []byte) error {

	if pos != component.FragmentSingle {
		return fmt.Errorf("%w: mixer config is not fragmented", component.ErrNotSupported)
	}
	if len(frag) < 8 {
		return fmt.Errorf("%w: mixer config needs 8 bytes", component.ErrInvalidState)
	}
	pin := binary.LittleEndian.Uint32(frag)
	if pin >= maxPins {
		return fmt.Errorf("%w: pin %d", component.ErrInvalidState, pin)
	}
	m.coeff[pin] = int64(binary.LittleEndian.Uint32(frag[4:]))
	return nil
}

// GetConfiguration reports all pin coefficients.
func (m *MixOut) GetConfiguration(_ *module.Processing, _ component.FragmentPosition,
	buf []byte) (int, error) {

	need := 4 * maxPins
	if len(buf) < need {
		return 0, fmt.Errorf("%w: mixer config needs %d bytes", component.ErrInvalidState, need)
	}
	for i, c := range m.coeff {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(c))
	}
	return need, nil
}

// MixIn duplicates one source stream into every participating sink.
type MixIn struct{}

func (m *MixIn) Init(p *module.Processing) error {
	p.MaxSinks = maxPins
	return nil
}

func (m *MixIn) Prepare(p *module.Processing, _ []buffer.Source, _ []buffer.Sink) error {
	if p.Params == nil {
		return fmt.Errorf("%w: mixin prepared without params", component.ErrInvalidState)
	}
	return nil
}

func (m *MixIn) Reset(*module.Processing) error { return nil }
func (m *MixIn) Free(*module.Processing) error  { return nil }

func (m *MixIn) ProcessAudioStream(_ *module.Processing, in []*module.StreamInput,
	out []*module.StreamOutput) error {

	if len(in) == 0 || in[0].Frames == 0 {
		return buffer.ErrNoData
	}
	src := in[0]
	f := src.Source.Format()
	bytes := src.Frames * f.FrameBytes()

	var sw audio.Window
	sw.Head, sw.Tail = src.Source.Read(bytes)
	for _, o := range out {
		var dw audio.Window
		dw.Head, dw.Tail = o.Sink.Write(bytes)
		copySplitWindow(dw, sw)
		o.Produced = bytes
	}
	src.Consumed = bytes
	return nil
}

func copySplitWindow(dst, src audio.Window) {
	n := copy(dst.Head, src.Head)
	if n < len(src.Head) {
		m := copy(dst.Tail, src.Head[n:])
		copy(dst.Tail[m:], src.Tail)
		return
	}
	m := copy(dst.Head[n:], src.Tail)
	copy(dst.Tail, src.Tail[m:])
}
