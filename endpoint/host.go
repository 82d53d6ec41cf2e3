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

// HostUUID identifies the host copier driver.
var HostUUID = uuid.MustParse("8b9d100c-6d78-418f-90a3-e0e805d0852b")

// HostSpec is the construction blob of a host copier.
type HostSpec struct {
	// Formats the host side offers; empty accepts anything valid.
	Formats []audio.Format
	// RingPeriods sizes the host memory ring; defaults to 16.
	RingPeriods int
	// DrainTimeout overrides the platform host drain deadline.
	DrainTimeout time.Duration
}

// HostDriver returns the registry driver for host copiers.
func HostDriver(base module.Config) *component.Driver {
	return &component.Driver{
		UUID: HostUUID,
		Name: "host-copier",
		Type: component.TypeHost,
		New: func(cfg component.Config, spec interface{}) (*component.Device, error) {
			return module.NewDevice(component.TypeHost, cfg, base, &Host{}, spec)
		},
	}
}

// Host is the DMA endpoint to host memory. For playback the host feeds
// the ring and the copy pass refills the attached sink buffer; capture
// runs the other way.
type Host struct {
	ring         *buffer.Buffer
	formats      []audio.Format
	ringPeriods  int
	drainTimeout time.Duration

	position    atomic.Uint64 // frames moved
	tsRunning   atomic.Bool
	forcedStops atomic.Int64
}

func (h *Host) Init(p *module.Processing) error {
	h.ringPeriods = 16
	h.drainTimeout = HostDrainTimeout
	if spec, ok := p.Spec.(*HostSpec); ok && spec != nil {
		h.formats = spec.Formats
		if spec.RingPeriods > 0 {
			h.ringPeriods = spec.RingPeriods
		}
		if spec.DrainTimeout > 0 {
			h.drainTimeout = spec.DrainTimeout
		}
	}
	return nil
}

func (h *Host) Prepare(*module.Processing, []buffer.Source, []buffer.Sink) error { return nil }

func (h *Host) Reset(*module.Processing) error {
	if h.ring != nil {
		h.ring.Reset()
	}
	h.position.Store(0)
	return nil
}

func (h *Host) Free(*module.Processing) error {
	h.ring = nil
	return nil
}

// EndpointParams verifies the requested format against the offered list
// and sizes the host ring.
func (h *Host) EndpointParams(p *module.Processing, f audio.Format) error {
	if len(h.formats) > 0 {
		ok := false
		for _, have := range h.formats {
			if have == f {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: host does not offer %v", audio.ErrInvalidFormat, f)
		}
	}
	ring, err := buffer.Alloc(0, h.ringPeriods*p.Dev.Frames*f.FrameBytes(), f)
	if err != nil {
		return err
	}
	ring.SetPeriod(p.Dev.Frames)
	h.ring = ring
	return nil
}

// EndpointCopy refills one DMA descriptor: a period between the host
// ring and the attached buffer.
func (h *Host) EndpointCopy(p *module.Processing) error {
	d := p.Dev
	if h.ring == nil {
		return component.ErrPathStop
	}
	period := d.Frames * h.ring.Format().FrameBytes()
	var moved int
	if d.Direction == component.Playback {
		if len(d.Sinks) == 0 {
			return component.ErrPathStop
		}
		moved = buffer.Copy(d.Sinks[0].Sink(), h.ring.Source(), period)
	} else {
		if len(d.Sources) == 0 {
			return component.ErrPathStop
		}
		moved = buffer.Copy(h.ring.Sink(), d.Sources[0].Source(), period)
	}
	h.position.Add(uint64(moved / h.ring.Format().FrameBytes()))
	return nil
}

func (h *Host) EndpointTrigger(p *module.Processing, t component.Trigger) error {
	if t == component.TriggerStop {
		h.drain(p)
	}
	return p.Dev.SetState(t)
}

// drain waits for in-flight playback data to leave the attached buffer,
// bounded by the host drain deadline. On timeout the stop is forced.
func (h *Host) drain(p *module.Processing) {
	d := p.Dev
	if d.Direction != component.Playback || len(d.Sinks) == 0 {
		return
	}
	deadline := time.Now().Add(h.drainTimeout)
	for d.Sinks[0].Available() > 0 {
		if time.Now().After(deadline) {
			h.forcedStops.Add(1)
			if d.Log != nil {
				d.Log.WithField("pending", d.Sinks[0].Available()).
					Warn("host drain timed out, stop forced")
			}
			return
		}
		time.Sleep(drainPoll)
	}
}

// Feed writes host data into the ring for playback. Returns bytes
// accepted.
func (h *Host) Feed(b []byte) (int, error) {
	if h.ring == nil {
		return 0, fmt.Errorf("%w: host ring not configured", component.ErrInvalidState)
	}
	snk := h.ring.Sink()
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

// ReadBack fetches captured data from the ring, up to len(b) bytes.
func (h *Host) ReadBack(b []byte) (int, error) {
	if h.ring == nil {
		return 0, fmt.Errorf("%w: host ring not configured", component.ErrInvalidState)
	}
	src := h.ring.Source()
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

// ForcedStops reports drains that hit the deadline.
func (h *Host) ForcedStops() int { return int(h.forcedStops.Load()) }

// Position reports frames moved since start.
func (h *Host) Position(*module.Processing) (uint64, error) {
	return h.position.Load(), nil
}

// HWParams is not meaningful on the host side.
func (h *Host) HWParams(*module.Processing) (audio.Format, error) {
	return audio.Format{}, component.ErrNotSupported
}

func (h *Host) TSConfig(*module.Processing) error { return nil }

func (h *Host) TSStart(*module.Processing) error {
	h.tsRunning.Store(true)
	return nil
}

func (h *Host) TSStop(*module.Processing) error {
	h.tsRunning.Store(false)
	return nil
}

func (h *Host) TSGet(*module.Processing) (uint64, error) {
	if !h.tsRunning.Load() {
		return 0, component.ErrNotSupported
	}
	return h.position.Load(), nil
}
