/*
Package module hosts plug-in processing modules inside the component
graph. The adapter bridges graph buffers to one of three module ABI
shapes: audio-stream modules that read and write the attached streams
directly, raw-data modules that work on linear scratch buffers, and
sink-source modules that move their own bytes through the endpoint API.

A module implements Interface plus exactly one of the processing
variants. Endpoint gateways (host, DAI) implement Endpoint instead and
bypass the adapter's buffering entirely.
*/
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

// Mode selects how the adapter feeds the module.
type Mode uint8

const (
	ModeAudioStream Mode = iota
	ModeRawData
	ModeSinkSource
)

func (m Mode) String() string {
	switch m {
	case ModeAudioStream:
		return "audio-stream"
	case ModeRawData:
		return "raw-data"
	case ModeSinkSource:
		return "sink-source"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Domain selects the scheduling domain of the module.
type Domain uint8

const (
	// DomainLL runs the module inside the timer-driven copy pass.
	DomainLL Domain = iota
	// DomainDP runs the module in a deferred task, exchanging data
	// with the copy pass through DP queues.
	DomainDP
)

func (d Domain) String() string {
	if d == DomainDP {
		return "dp"
	}
	return "ll"
}

// ErrBadMode rejects modules that populate zero or several processing
// variants.
var ErrBadMode = errors.New("module must implement exactly one processing variant")

// Interface is the base contract every processing module satisfies.
type Interface interface {
	Init(p *Processing) error
	Prepare(p *Processing, sources []buffer.Source, sinks []buffer.Sink) error
	Reset(p *Processing) error
	Free(p *Processing) error
}

// StreamInput describes one source stream offered to an audio-stream
// module for a single pass. The module records what it consumed.
type StreamInput struct {
	Source   buffer.Source
	Frames   int
	Consumed int // bytes
}

// StreamOutput describes one sink stream offered to an audio-stream
// module. The module records what it produced.
type StreamOutput struct {
	Sink     buffer.Sink
	Produced int // bytes
}

// RawBuffer is a linear scratch buffer exchanged with raw-data modules.
type RawBuffer struct {
	Data     []byte
	Size     int
	Consumed int
}

// AudioStreamer processes attached streams in place.
type AudioStreamer interface {
	Interface
	ProcessAudioStream(p *Processing, in []*StreamInput, out []*StreamOutput) error
}

// RawProcessor consumes and produces linear byte buffers.
type RawProcessor interface {
	Interface
	ProcessRawData(p *Processing, in []*RawBuffer, out []*RawBuffer) error
}

// SinkSourceProcessor moves its own bytes through source/sink endpoints.
type SinkSourceProcessor interface {
	Interface
	ProcessSinkSource(p *Processing, sources []buffer.Source, sinks []buffer.Sink) error
}

// Triggerer lets a module intercept lifecycle triggers.
type Triggerer interface {
	ModuleTrigger(p *Processing, t component.Trigger) error
}

// Configurator handles the fragmented configuration blob protocol.
type Configurator interface {
	SetConfiguration(p *Processing, paramID uint32, pos component.FragmentPosition,
		offset int, frag []byte) error
	GetConfiguration(p *Processing, pos component.FragmentPosition, buf []byte) (int, error)
}

// Endpoint is the gateway contract of host and DAI components. The
// adapter forwards everything to it and skips its own buffering.
type Endpoint interface {
	Interface
	EndpointParams(p *Processing, f audio.Format) error
	EndpointCopy(p *Processing) error
	EndpointTrigger(p *Processing, t component.Trigger) error
	Position(p *Processing) (uint64, error)
	HWParams(p *Processing) (audio.Format, error)
	TSConfig(p *Processing) error
	TSStart(p *Processing) error
	TSStop(p *Processing) error
	TSGet(p *Processing) (uint64, error)
}

// Processing is the per-instance state the adapter keeps for a hosted
// module.
type Processing struct {
	Dev   *component.Device
	Iface Interface

	Mode   Mode
	Domain Domain

	// Modules raise these in Init when they support fan-in/fan-out.
	MaxSources int
	MaxSinks   int

	// NoPause keeps the module running across PAUSE triggers.
	NoPause bool

	// FrameAlign is the frame alignment the processing kernel needs.
	FrameAlign int

	// InBuffSize and OutBuffSize are the module data portions for
	// raw-data processing; modules set them in Init or Prepare.
	InBuffSize  int
	OutBuffSize int

	// Period is the processing cadence in microseconds. Zero until
	// prepare derives it, unless the module fixed its own.
	Period uint32

	PeriodBytes   int
	DeepBuffBytes int

	// Spec is the opaque construction blob from the topology.
	Spec interface{}

	// Params holds the negotiated stream parameters.
	Params *audio.Format

	// Private is the module's own state.
	Private interface{}

	TotalConsumed uint64
	TotalProduced uint64

	inputs  []*RawBuffer
	outputs []*RawBuffer

	streamIn  []*StreamInput
	streamOut []*StreamOutput
	// outScratch collects the participating outputs of a fan-out pass
	// without allocating on the copy path.
	outScratch []*StreamOutput

	// sinkBufs absorb jitter between raw-data output scratch and the
	// attached downstream buffers.
	sinkBufs       []*buffer.Buffer
	outputBufSize  int

	// sources and sinks are the endpoints handed to sink-source
	// modules; in the DP domain they point at the queue shadows.
	sources []buffer.Source
	sinks   []buffer.Sink

	llToDP []*dpqueue.Queue
	dpToLL []*dpqueue.Queue

	zones  *mem.Zones
	memOps mem.Ops

	// pending configuration blob assembly
	cfgTotal int
}

// Sources returns the endpoints a sink-source module processes.
func (p *Processing) Sources() []buffer.Source { return p.sources }

// Sinks returns the endpoints a sink-source module processes.
func (p *Processing) Sinks() []buffer.Sink { return p.sinks }

// Queues returns the LL-to-DP and DP-to-LL queues of a DP module.
func (p *Processing) Queues() (llToDP, dpToLL []*dpqueue.Queue) {
	return p.llToDP, p.dpToLL
}

// detectMode derives the processing mode from the implemented variant
// and forbids ambiguous modules.
func detectMode(iface Interface) (Mode, error) {
	var (
		mode  Mode
		count int
	)
	if _, ok := iface.(AudioStreamer); ok {
		mode = ModeAudioStream
		count++
	}
	if _, ok := iface.(RawProcessor); ok {
		mode = ModeRawData
		count++
	}
	if _, ok := iface.(SinkSourceProcessor); ok {
		mode = ModeSinkSource
		count++
	}
	if count != 1 {
		return 0, fmt.Errorf("%w: %d variants", ErrBadMode, count)
	}
	return mode, nil
}
