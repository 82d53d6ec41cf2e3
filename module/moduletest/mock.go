/*
Package moduletest provides configurable mock modules for adapter,
scheduler and IPC tests.
*/
package moduletest

import (
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// Counter tracks module lifecycle and processing calls.
type Counter struct {
	Inits     int
	Prepares  int
	Resets    int
	Frees     int
	Processes int
}

// Base implements the lifecycle shared by all mocks.
type Base struct {
	Counter Counter

	// Hooks override the default no-op behaviour when set.
	InitFunc    func(p *module.Processing) error
	PrepareFunc func(p *module.Processing) error
}

func (b *Base) Init(p *module.Processing) error {
	b.Counter.Inits++
	if b.InitFunc != nil {
		return b.InitFunc(p)
	}
	return nil
}

func (b *Base) Prepare(p *module.Processing, _ []buffer.Source, _ []buffer.Sink) error {
	b.Counter.Prepares++
	if b.PrepareFunc != nil {
		return b.PrepareFunc(p)
	}
	return nil
}

func (b *Base) Reset(*module.Processing) error {
	b.Counter.Resets++
	return nil
}

func (b *Base) Free(*module.Processing) error {
	b.Counter.Frees++
	return nil
}

// Passthrough is an audio-stream mock copying its input to its output.
type Passthrough struct {
	Base
	// Err is returned from every process call when set.
	Err error
	// FailOnce makes the next process call return Err once.
	FailOnce bool
	// Observer runs inside every process call when set.
	Observer func()
}

func (m *Passthrough) ProcessAudioStream(_ *module.Processing, in []*module.StreamInput,
	out []*module.StreamOutput) error {

	m.Counter.Processes++
	if m.Observer != nil {
		m.Observer()
	}
	if m.Err != nil {
		err := m.Err
		if m.FailOnce {
			m.Err = nil
		}
		return err
	}
	if len(in) == 0 || len(out) == 0 {
		return nil
	}
	src := in[0]
	snk := out[0]
	if src.Frames == 0 {
		return buffer.ErrNoData
	}
	bytes := src.Frames * src.Source.Format().FrameBytes()
	sh, st := src.Source.Read(bytes)
	dh, dt := snk.Sink.Write(bytes)
	n := copy(dh, sh)
	if n < len(sh) {
		w := copy(dt, sh[n:])
		copy(dt[w:], st)
	} else {
		w := copy(dh[n:], st)
		copy(dt, st[w:])
	}
	src.Consumed = bytes
	snk.Produced = bytes
	return nil
}

// Raw is a raw-data mock that forwards input windows to the output.
type Raw struct {
	Base
	// InPeriods and OutPeriods size the data portions in periods of
	// the prepared stream.
	InPeriods  int
	OutPeriods int
}

func (m *Raw) Prepare(p *module.Processing, s []buffer.Source, k []buffer.Sink) error {
	if err := m.Base.Prepare(p, s, k); err != nil {
		return err
	}
	period := p.Dev.Frames * p.Params.FrameBytes()
	in := m.InPeriods
	if in <= 0 {
		in = 1
	}
	out := m.OutPeriods
	if out <= 0 {
		out = in
	}
	p.InBuffSize = in * period
	p.OutBuffSize = out * period
	return nil
}

func (m *Raw) ProcessRawData(_ *module.Processing, in []*module.RawBuffer,
	out []*module.RawBuffer) error {

	m.Counter.Processes++
	if len(in) == 0 || len(out) == 0 {
		return nil
	}
	if in[0].Size == 0 {
		return buffer.ErrNoData
	}
	n := copy(out[0].Data, in[0].Data[:in[0].Size])
	in[0].Consumed = in[0].Size
	out[0].Size = n
	return nil
}

// SinkSource is a sink-source mock moving min(available, free) bytes.
type SinkSource struct {
	Base
	// NoPause marks the module as not supporting PAUSE.
	NoPause bool
}

func (m *SinkSource) Init(p *module.Processing) error {
	if m.NoPause {
		p.NoPause = true
	}
	return m.Base.Init(p)
}

func (m *SinkSource) ProcessSinkSource(_ *module.Processing, sources []buffer.Source,
	sinks []buffer.Sink) error {

	m.Counter.Processes++
	if len(sources) == 0 || len(sinks) == 0 {
		return nil
	}
	src := sources[0]
	snk := sinks[0]
	n := src.Available()
	if free := snk.Free(); free < n {
		n = free
	}
	if n == 0 {
		if src.Available() == 0 {
			return buffer.ErrNoData
		}
		return buffer.ErrNoSpace
	}
	buffer.Copy(snk, src, n)
	return nil
}

// Ambiguous implements two processing variants; construction must be
// rejected.
type Ambiguous struct {
	Base
}

func (m *Ambiguous) ProcessAudioStream(*module.Processing, []*module.StreamInput,
	[]*module.StreamOutput) error {
	return nil
}

func (m *Ambiguous) ProcessRawData(*module.Processing, []*module.RawBuffer,
	[]*module.RawBuffer) error {
	return nil
}

// Device wraps module.NewDevice for tests.
func Device(id uint32, typ component.Type, iface module.Interface,
	mcfg module.Config) (*component.Device, error) {

	return module.NewDevice(typ, component.Config{ID: id, Frames: 48, PeriodUS: 1000},
		mcfg, iface, nil)
}
