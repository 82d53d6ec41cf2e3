package endpoint

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// DAIUUID identifies the DAI copier driver.
var DAIUUID = uuid.MustParse("db10a773-1aa4-4cea-a21f-2d57a5c982eb")

// DAISpec is the construction blob of a DAI copier.
type DAISpec struct {
	// Format is the hardware interface format. Zero value defers to
	// the stream parameters.
	Format audio.Format
	// WirePeriods sizes the hardware FIFO model; defaults to 64 so
	// tests can inspect a capture of the wire.
	WirePeriods int
	// DrainTimeout overrides the platform DMA drain deadline.
	DrainTimeout time.Duration
}

// DAIDriver returns the registry driver for DAI copiers.
func DAIDriver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: DAIUUID,
		Name: "dai-copier",
		Type: component.TypeDAI,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeDAI, cfg, base, &DAI{}, spec)
		},
	}
}

// DAI is the DMA endpoint to the audio interface hardware. The wire
// ring stands in for the hardware FIFO: playback copies drain the
// attached source buffer onto the wire, capture the other way.
type DAI struct {
	wire         *buffer.Buffer
	hw           audio.Format
	wirePeriods  int
	drainTimeout time.Duration

	position    atomic.Uint64 // frames moved
	underruns   atomic.Int64
	tsRunning   atomic.Bool
	forcedStops atomic.Int64
}

func (d *DAI) Init(p *module.Processing) error {
	d.wirePeriods = 64
	d.drainTimeout = DMADrainTimeout
	if spec, ok := p.Spec.(*DAISpec); ok && spec != nil {
		d.hw = spec.Format
		if spec.WirePeriods > 0 {
			d.wirePeriods = spec.WirePeriods
		}
		if spec.DrainTimeout > 0 {
			d.drainTimeout = spec.DrainTimeout
		}
	}
	return nil
}

func (d *DAI) Prepare(*module.Processing, []buffer.Source, []buffer.Sink) error { return nil }

func (d *DAI) Reset(*module.Processing) error {
	if d.wire != nil {
		d.wire.Reset()
	}
	d.position.Store(0)
	return nil
}

func (d *DAI) Free(*module.Processing) error {
	d.wire = nil
	return nil
}

// EndpointParams checks the stream against the hardware format and
// sizes the wire ring.
func (d *DAI) EndpointParams(p *module.Processing, f audio.Format) error {
	if d.hw.Rate != 0 && d.hw != f {
		return fmt.Errorf("%w: hardware runs %v, stream %v", audio.ErrInvalidFormat, d.hw, f)
	}
	wire, err := buffer.Alloc(0, d.wirePeriods*p.Dev.Frames*f.FrameBytes(), f)
	if err != nil {
		return err
	}
	wire.SetPeriod(p.Dev.Frames)
	d.wire = wire
	return nil
}

// EndpointCopy refills one hardware DMA descriptor. An active playback
// pass that finds less than a period in its source records an underrun.
func (d *DAI) EndpointCopy(p *module.Processing) error {
	dev := p.Dev
	if d.wire == nil {
		return component.ErrPathStop
	}
	period := dev.Frames * d.wire.Format().FrameBytes()
	var moved int
	if dev.Direction == component.Playback {
		if len(dev.Sources) == 0 {
			return component.ErrPathStop
		}
		src := dev.Sources[0]
		if dev.State == component.StateActive && src.Available() < period {
			d.underruns.Add(1)
		}
		moved = buffer.Copy(d.wire.Sink(), src.Source(), period)
	} else {
		if len(dev.Sinks) == 0 {
			return component.ErrPathStop
		}
		snk := dev.Sinks[0]
		if dev.State == component.StateActive && d.wire.Available() < period {
			d.underruns.Add(1)
		}
		moved = buffer.Copy(snk.Sink(), d.wire.Source(), period)
	}
	d.position.Add(uint64(moved / d.wire.Format().FrameBytes()))
	return nil
}

func (d *DAI) EndpointTrigger(p *module.Processing, t component.Trigger) error {
	if t == component.TriggerStop {
		d.drain(p)
	}
	return p.Dev.SetState(t)
}

// drain empties the in-flight playback data onto the wire, bounded by
// the DMA drain deadline.
func (d *DAI) drain(p *module.Processing) {
	dev := p.Dev
	if dev.Direction != component.Playback || len(dev.Sources) == 0 || d.wire == nil {
		return
	}
	deadline := time.Now().Add(d.drainTimeout)
	src := dev.Sources[0]
	for src.Available() > 0 {
		if buffer.Copy(d.wire.Sink(), src.Source(), src.Available()) == 0 {
			if time.Now().After(deadline) {
				d.forcedStops.Add(1)
				if dev.Log != nil {
					dev.Log.WithField("pending", src.Available()).
						Warn("dai drain timed out, stop forced")
				}
				return
			}
			time.Sleep(drainPoll)
		}
	}
}

// FeedWire injects capture data as if the hardware produced it.
func (d *DAI) FeedWire(b []byte) (int, error) {
	if d.wire == nil {
		return 0, fmt.Errorf("%w: wire not configured", component.ErrInvalidState)
	}
	snk := d.wire.Sink()
	n := len(b)
	if free := snk.Free(); n > free {
		n = free
	}
	head, tail := snk.Write(n)
	w := copy(head, b[:n])
	copy(tail, b[w:n])
	if err := snk.Produce(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Captured reads played data off the wire, up to len(b) bytes.
func (d *DAI) Captured(b []byte) (int, error) {
	if d.wire == nil {
		return 0, fmt.Errorf("%w: wire not configured", component.ErrInvalidState)
	}
	src := d.wire.Source()
	n := len(b)
	if avail := src.Available(); n > avail {
		n = avail
	}
	head, tail := src.Read(n)
	w := copy(b, head)
	copy(b[w:n], tail)
	if err := src.Consume(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Underruns reports starved active copy passes.
func (d *DAI) Underruns() int { return int(d.underruns.Load()) }

// ForcedStops reports drains that hit the deadline.
func (d *DAI) ForcedStops() int { return int(d.forcedStops.Load()) }

// Position reports frames moved since start.
func (d *DAI) Position(*module.Processing) (uint64, error) {
	return d.position.Load(), nil
}

// HWParams reports the hardware interface format.
func (d *DAI) HWParams(*module.Processing) (audio.Format, error) {
	if d.hw.Rate == 0 {
		return audio.Format{}, component.ErrNotSupported
	}
	return d.hw, nil
}

func (d *DAI) TSConfig(*module.Processing) error { return nil }

func (d *DAI) TSStart(*module.Processing) error {
	d.tsRunning.Store(true)
	return nil
}

func (d *DAI) TSStop(*module.Processing) error {
	d.tsRunning.Store(false)
	return nil
}

func (d *DAI) TSGet(*module.Processing) (uint64, error) {
	if !d.tsRunning.Load() {
		return 0, component.ErrNotSupported
	}
	return d.position.Load(), nil
}
