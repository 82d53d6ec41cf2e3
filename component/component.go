/*
Package component defines the processing node of the pipeline graph: its
device state, lifecycle transitions, operations table and the driver
registry components are constructed from.
*/
package component

import (
	"fmt"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
)

// Type classifies a component for graph resolution.
type Type uint8

const (
	TypeHost Type = iota
	TypeDAI
	TypeMixer
	TypeMixIn
	TypeMixOut
	TypeVolume
	TypeEQ
	TypeSRC
	TypeTone
	TypeModule
)

func (t Type) String() string {
	switch t {
	case TypeHost:
		return "host"
	case TypeDAI:
		return "dai"
	case TypeMixer:
		return "mixer"
	case TypeMixIn:
		return "mixin"
	case TypeMixOut:
		return "mixout"
	case TypeVolume:
		return "volume"
	case TypeEQ:
		return "eq"
	case TypeSRC:
		return "src"
	case TypeTone:
		return "tone"
	case TypeModule:
		return "module"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Endpoint reports whether the type terminates a pipeline at the host
// or hardware boundary.
func (t Type) Endpoint() bool { return t == TypeHost || t == TypeDAI }

// Direction of the stream through a pipeline.
type Direction uint8

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}
	return "playback"
}

// Config carries the construction parameters shared by all component
// types. Driver-specific settings travel in the spec blob.
type Config struct {
	ID        uint32
	Pipeline  uint32
	Core      int
	Frames    int
	PeriodUS  uint32
	Direction Direction
	IsShared  bool
	Log       *logrus.Entry
}

// Operations is the driver operations table of a component instance.
type Operations interface {
	Params(d *Device, f audio.Format) error
	Prepare(d *Device) error
	Trigger(d *Device, t Trigger) error
	Copy(d *Device) error
	Reset(d *Device) error
	Free(d *Device) error
	Command(d *Device, c *CtrlData) ([]byte, error)
}

// Device is one component instance in the graph.
type Device struct {
	ID        uint32
	UID       string
	Type      Type
	Pipeline  uint32
	Core      int
	Frames    int
	PeriodUS  uint32
	Direction Direction
	IsShared  bool

	State State

	// Sources are the buffers the device reads, Sinks the buffers it
	// writes. Attach order defines pin order.
	mu      sync.Mutex
	Sources []*buffer.Buffer
	Sinks   []*buffer.Buffer

	Ops Operations
	Log *logrus.Entry

	// Private holds the driver data of the operations table.
	Private interface{}
}

// NewDevice builds a device in INIT state.
func NewDevice(typ Type, cfg Config, ops Operations) *Device {
	frames := cfg.Frames
	if frames == 0 {
		frames = 48
	}
	period := cfg.PeriodUS
	if period == 0 {
		period = 1000
	}
	return &Device{
		ID:        cfg.ID,
		UID:       xid.New().String(),
		Type:      typ,
		Pipeline:  cfg.Pipeline,
		Core:      cfg.Core,
		Frames:    frames,
		PeriodUS:  period,
		Direction: cfg.Direction,
		IsShared:  cfg.IsShared,
		State:     StateInit,
		Ops:       ops,
		Log:       cfg.Log,
	}
}

// NodeID implements buffer.Node.
func (d *Device) NodeID() uint32 { return d.ID }

// NodeState implements buffer.Node.
func (d *Device) NodeState() uint32 { return uint32(d.State) }

// SetState applies the trigger to the device state. ErrAlreadySet is
// returned without side effects when the state is already reached.
func (d *Device) SetState(t Trigger) error {
	next, err := Next(d.State, t)
	if err != nil {
		return err
	}
	d.State = next
	return nil
}

// AttachSource registers a buffer the device will read. The buffer's
// consumer side must be free.
func (d *Device) AttachSource(b *buffer.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := b.AttachConsumer(d, len(d.Sources)); err != nil {
		return err
	}
	d.Sources = append(d.Sources, b)
	return nil
}

// AttachSink registers a buffer the device will write. The buffer's
// producer side must be free.
func (d *Device) AttachSink(b *buffer.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := b.AttachProducer(d, len(d.Sinks)); err != nil {
		return err
	}
	d.Sinks = append(d.Sinks, b)
	return nil
}

// DetachAll releases every buffer attachment of the device.
func (d *Device) DetachAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.Sources {
		b.DetachConsumer()
	}
	for _, b := range d.Sinks {
		b.DetachProducer()
	}
	d.Sources = nil
	d.Sinks = nil
}

func (d *Device) String() string {
	return fmt.Sprintf("%v %d (pipe %d, %v)", d.Type, d.ID, d.Pipeline, d.State)
}
