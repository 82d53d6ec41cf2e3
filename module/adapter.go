package module

import (
	"errors"
	"fmt"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/dpqueue"
	"github.com/aupipe/adsp/mem"
)

// Config carries adapter-level settings of a hosted module.
type Config struct {
	Domain  Domain
	NoPause bool
	Zones   *mem.Zones
	MemOps  mem.Ops
}

// adapter implements component.Operations for hosted modules.
type adapter struct{}

var ops component.Operations = adapter{}

// NewDevice creates a component hosting the given module. The module's
// Init runs here; the device is returned in READY state.
func NewDevice(typ component.Type, cfg component.Config, mcfg Config,
	iface Interface, spec interface{}) (*component.Device, error) {

	dev := component.NewDevice(typ, cfg, ops)
	p := &Processing{
		Dev:        dev,
		Iface:      iface,
		Domain:     mcfg.Domain,
		NoPause:    mcfg.NoPause,
		MaxSources: 1,
		MaxSinks:   1,
		FrameAlign: 1,
		Spec:       spec,
		zones:      mcfg.Zones,
		memOps:     mcfg.MemOps,
	}
	if p.zones == nil {
		p.zones = &mem.Zones{}
	}
	if p.memOps == nil {
		p.memOps = mem.Coherent
	}
	dev.Private = p

	if typ.Endpoint() {
		if _, ok := iface.(Endpoint); !ok {
			return nil, fmt.Errorf("%w: %v component without endpoint ops", ErrBadMode, typ)
		}
		p.Mode = ModeAudioStream
	} else {
		mode, err := detectMode(iface)
		if err != nil {
			return nil, err
		}
		p.Mode = mode
	}

	if err := iface.Init(p); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}

	dev.State = component.StateReady
	if dev.Log != nil {
		dev.Log.Debug("module adapter created")
	}
	return dev, nil
}

// Proc returns the processing state hosted by a device, or nil when the
// device is not adapter-managed.
func Proc(d *component.Device) *Processing {
	p, _ := d.Private.(*Processing)
	return p
}

func (adapter) Params(d *component.Device, f audio.Format) error {
	p := Proc(d)
	if err := f.Validate(); err != nil {
		return err
	}
	if ep, ok := p.Iface.(Endpoint); ok && d.Type.Endpoint() {
		if err := ep.EndpointParams(p, f); err != nil {
			return err
		}
	}
	params := f
	p.Params = &params
	// propagate downstream so every buffer on the path settles on the
	// same parameters before prepare
	for _, b := range d.Sinks {
		if err := b.SetFormat(f); err != nil {
			return err
		}
		b.SetPeriod(d.Frames)
	}
	return nil
}

func (adapter) Prepare(d *component.Device) error {
	p := Proc(d)
	var err error
	switch {
	case p.Mode == ModeSinkSource && p.Domain == DomainDP:
		err = p.dpQueuePrepare()
	case p.Mode == ModeSinkSource:
		err = p.sinkSourcePrepare()
	case d.Type.Endpoint() || p.Mode == ModeAudioStream || p.Mode == ModeRawData:
		err = p.Iface.Prepare(p, nil, nil)
	default:
		err = fmt.Errorf("%w: %v in %v domain", ErrBadMode, p.Mode, p.Domain)
	}
	if err != nil {
		return err
	}

	// a mixer source may have activated the component already
	if d.State == component.StateActive {
		return component.ErrPathStop
	}
	if err := d.SetState(component.TriggerPrepare); err != nil {
		if errors.Is(err, component.ErrAlreadySet) {
			if d.Log != nil {
				d.Log.Warn("module already prepared")
			}
			return component.ErrPathStop
		}
		return err
	}

	if d.Type.Endpoint() {
		return nil
	}

	p.DeepBuffBytes = 0
	p.PeriodBytes = d.Frames * p.frameBytes(d)

	if p.Mode == ModeSinkSource {
		return nil
	}

	numSources := len(d.Sources)
	numSinks := len(d.Sinks)
	if numSources == 0 && numSinks == 0 {
		return fmt.Errorf("%w: no source and sink buffers connected", component.ErrInvalidState)
	}
	if p.Mode == ModeAudioStream && p.MaxSources > 1 && p.MaxSinks > 1 {
		return fmt.Errorf("%w: audio-stream module cannot fan both sides", ErrBadMode)
	}
	if numSources > p.MaxSources {
		return fmt.Errorf("%w: %d sources, max %d", component.ErrInvalidState, numSources, p.MaxSources)
	}
	if numSinks > p.MaxSinks {
		return fmt.Errorf("%w: %d sinks, max %d", component.ErrInvalidState, numSinks, p.MaxSinks)
	}

	p.streamIn = make([]*StreamInput, numSources)
	p.streamOut = make([]*StreamOutput, numSinks)
	p.outScratch = make([]*StreamOutput, 0, numSinks)
	for i := range p.streamIn {
		p.streamIn[i] = &StreamInput{}
	}
	for i := range p.streamOut {
		p.streamOut[i] = &StreamOutput{}
	}

	if p.Mode != ModeRawData {
		return nil
	}
	return p.rawDataPrepare(numSources, numSinks)
}

// frameBytes picks the settled frame size: the first sink buffer if the
// component has one, the first source otherwise.
func (p *Processing) frameBytes(d *component.Device) int {
	if len(d.Sinks) > 0 {
		return d.Sinks[0].Format().FrameBytes()
	}
	if len(d.Sources) > 0 {
		return d.Sources[0].Format().FrameBytes()
	}
	return 0
}

// buffPeriods implements the deep-buffer sizing rule: the span ratio of
// the two portion sizes, rounded up, plus one extra period of slack.
func buffPeriods(a, b int) int {
	if a < b {
		a, b = b, a
	}
	if b == 0 {
		return 1
	}
	if a%b != 0 {
		return a/b + 2
	}
	return a/b + 1
}

func (p *Processing) rawDataPrepare(numSources, numSinks int) error {
	d := p.Dev
	if p.InBuffSize <= 0 || p.OutBuffSize <= 0 {
		return fmt.Errorf("%w: raw-data module without data portion sizes", ErrBadMode)
	}

	// deep buffering hides the module warm-up window from the DAI:
	// until one window of input is gathered, the downstream side is
	// fed zeros instead of starving
	if p.InBuffSize != p.PeriodBytes {
		n := p.PeriodBytes
		if p.InBuffSize < n {
			n = p.InBuffSize
		}
		p.DeepBuffBytes = n * buffPeriods(p.InBuffSize, p.PeriodBytes)
	}

	outSize := p.OutBuffSize
	if p.PeriodBytes > outSize {
		outSize = p.PeriodBytes
	}
	p.outputBufSize = outSize * buffPeriods(p.OutBuffSize, p.PeriodBytes)

	inAlloc := p.PeriodBytes
	if p.DeepBuffBytes > inAlloc {
		inAlloc = p.DeepBuffBytes
	}
	if p.InBuffSize > inAlloc {
		inAlloc = p.InBuffSize
	}

	p.inputs = make([]*RawBuffer, numSources)
	for i := range p.inputs {
		p.inputs[i] = &RawBuffer{Data: p.zones.Alloc(mem.ZoneRuntime, inAlloc)}
	}
	p.outputs = make([]*RawBuffer, numSinks)
	for i := range p.outputs {
		p.outputs[i] = &RawBuffer{Data: p.zones.Alloc(mem.ZoneRuntime, p.OutBuffSize)}
	}

	// one intermediate buffer upstream of each attached sink
	if len(p.sinkBufs) == 0 {
		for i := 0; i < numSinks; i++ {
			f := d.Sinks[i].Format()
			size := p.outputBufSize
			if rem := size % f.FrameBytes(); rem != 0 {
				size += f.FrameBytes() - rem
			}
			b, err := buffer.Alloc(0, size, f, buffer.WithMemOps(p.memOps))
			if err != nil {
				p.releaseRawBuffers()
				return err
			}
			b.SetPeriod(d.Frames)
			p.sinkBufs = append(p.sinkBufs, b)
		}
	} else {
		for _, b := range p.sinkBufs {
			b.Reset()
		}
	}
	return nil
}

func (p *Processing) releaseRawBuffers() {
	for _, in := range p.inputs {
		p.zones.Free(mem.ZoneRuntime, in.Data)
	}
	for _, out := range p.outputs {
		p.zones.Free(mem.ZoneRuntime, out.Data)
	}
	p.inputs = nil
	p.outputs = nil
}

// sinkSourcePrepare hands the module the endpoint views of all attached
// buffers.
func (p *Processing) sinkSourcePrepare() error {
	d := p.Dev
	p.sources = p.sources[:0]
	p.sinks = p.sinks[:0]
	for _, b := range d.Sources {
		p.sources = append(p.sources, b.Source())
	}
	for _, b := range d.Sinks {
		p.sinks = append(p.sinks, b.Sink())
	}
	return p.Iface.Prepare(p, p.sources, p.sinks)
}

// dpQueuePrepare shadows every attached buffer with a DP queue and
// derives the module period from the sink portions.
func (p *Processing) dpQueuePrepare() error {
	d := p.Dev
	if err := p.sinkSourcePrepare(); err != nil {
		return err
	}

	mode := dpqueue.Local
	if d.IsShared {
		mode = dpqueue.Shared
	}

	p.llToDP = p.llToDP[:0]
	p.dpToLL = p.dpToLL[:0]
	for i, b := range d.Sources {
		q, err := dpqueue.New(b.Source().MinAvailable(), b.Sink().MinFree(), mode,
			b.Format(), dpqueue.WithMemOps(p.memOps))
		if err != nil {
			p.freeQueues()
			return err
		}
		p.llToDP = append(p.llToDP, q)
		p.sources[i] = q.Source()
	}

	period := uint32(0)
	for i, b := range d.Sinks {
		q, err := dpqueue.New(b.Source().MinAvailable(), b.Sink().MinFree(), mode,
			b.Format(), dpqueue.WithMemOps(p.memOps))
		if err != nil {
			p.freeQueues()
			return err
		}
		p.dpToLL = append(p.dpToLL, q)
		p.sinks[i] = q.Sink()

		f := b.Format()
		sinkPeriod := uint32(1e6 * q.Sink().MinFree() / (f.FrameBytes() * f.Rate))
		if period == 0 || sinkPeriod < period {
			period = sinkPeriod
		}
	}
	// the module may have fixed its own cadence during prepare, e.g.
	// event detectors with no audio deadline
	if p.Period == 0 {
		p.Period = period
		if d.Log != nil {
			d.Log.WithField("period_us", period).Info("dp module period derived")
		}
	}
	return nil
}

func (p *Processing) freeQueues() {
	for _, q := range p.llToDP {
		q.Free()
	}
	for _, q := range p.dpToLL {
		q.Free()
	}
	p.llToDP = nil
	p.dpToLL = nil
}

func (adapter) Trigger(d *component.Device, t component.Trigger) error {
	p := Proc(d)
	if ep, ok := p.Iface.(Endpoint); ok && d.Type.Endpoint() {
		return ep.EndpointTrigger(p, t)
	}
	if t == component.TriggerPause && p.NoPause {
		d.State = component.StateActive
		return component.ErrPathStop
	}
	if tr, ok := p.Iface.(Triggerer); ok {
		return tr.ModuleTrigger(p, t)
	}
	return d.SetState(t)
}

func (adapter) Reset(d *component.Device) error {
	p := Proc(d)
	if err := p.Iface.Reset(p); err != nil {
		return err
	}

	if p.Mode == ModeRawData {
		p.releaseRawBuffers()
	}
	if p.Mode == ModeRawData || p.Mode == ModeAudioStream {
		p.streamIn = nil
		p.streamOut = nil
		p.outScratch = nil
	}
	if p.Mode == ModeSinkSource && p.Domain == DomainDP {
		p.freeQueues()
	}
	if p.Mode == ModeSinkSource {
		p.sources = nil
		p.sinks = nil
	}

	p.TotalConsumed = 0
	p.TotalProduced = 0
	p.DeepBuffBytes = 0
	for _, b := range p.sinkBufs {
		b.Reset()
	}
	p.Params = nil

	return d.SetState(component.TriggerReset)
}

func (adapter) Free(d *component.Device) error {
	p := Proc(d)
	if err := p.Iface.Free(p); err != nil && d.Log != nil {
		d.Log.WithField("error", err).Error("module free failed")
	}
	p.sinkBufs = nil
	d.DetachAll()
	return nil
}

func (adapter) Command(d *component.Device, c *component.CtrlData) ([]byte, error) {
	p := Proc(d)
	cfg, ok := p.Iface.(Configurator)

	switch c.Cmd {
	case component.CmdSetData, component.CmdGetData:
		pos := c.Position()
		var offset int
		if c.MsgIndex == 0 {
			p.cfgTotal = len(c.Data) + c.Remaining
			offset = p.cfgTotal
		} else {
			offset = p.cfgTotal - (len(c.Data) + c.Remaining)
			if offset < 0 {
				return nil, fmt.Errorf("%w: fragment exceeds declared size %d",
					component.ErrInvalidState, p.cfgTotal)
			}
		}
		if c.Cmd == component.CmdSetData {
			if !ok {
				return nil, nil
			}
			return nil, cfg.SetConfiguration(p, c.ParamID, pos, offset, c.Data)
		}
		if !ok {
			return nil, nil
		}
		buf := make([]byte, len(c.Data))
		n, err := cfg.GetConfiguration(p, pos, buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	case component.CmdSetValue:
		if !ok {
			return nil, nil
		}
		return nil, cfg.SetConfiguration(p, 0, component.FragmentSingle, 0, c.Data)
	case component.CmdGetValue:
		if !ok {
			return nil, nil
		}
		buf := make([]byte, len(c.Data))
		n, err := cfg.GetConfiguration(p, component.FragmentSingle, buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	return nil, fmt.Errorf("%w: command %d", component.ErrNotSupported, c.Cmd)
}

// Position forwards the stream position query to the endpoint driver.
func Position(d *component.Device) (uint64, error) {
	p := Proc(d)
	if ep, ok := p.Iface.(Endpoint); ok {
		return ep.Position(p)
	}
	return 0, component.ErrNotSupported
}

// HWParams forwards the hardware parameter query to the endpoint driver.
func HWParams(d *component.Device) (audio.Format, error) {
	p := Proc(d)
	if ep, ok := p.Iface.(Endpoint); ok {
		return ep.HWParams(p)
	}
	return audio.Format{}, component.ErrNotSupported
}

// TSConfig forwards timestamp configuration to the endpoint driver.
func TSConfig(d *component.Device) error {
	if ep, ok := Proc(d).Iface.(Endpoint); ok {
		return ep.TSConfig(Proc(d))
	}
	return component.ErrNotSupported
}

// TSStart starts timestamping on the endpoint driver.
func TSStart(d *component.Device) error {
	if ep, ok := Proc(d).Iface.(Endpoint); ok {
		return ep.TSStart(Proc(d))
	}
	return component.ErrNotSupported
}

// TSStop stops timestamping on the endpoint driver.
func TSStop(d *component.Device) error {
	if ep, ok := Proc(d).Iface.(Endpoint); ok {
		return ep.TSStop(Proc(d))
	}
	return component.ErrNotSupported
}

// TSGet reads the current endpoint timestamp.
func TSGet(d *component.Device) (uint64, error) {
	if ep, ok := Proc(d).Iface.(Endpoint); ok {
		return ep.TSGet(Proc(d))
	}
	return 0, component.ErrNotSupported
}
