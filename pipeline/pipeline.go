/*
Package pipeline owns a connected subgraph of components and the
scheduling metadata the runtime dispatches it with. A pipeline is the
scheduling unit: one period, deadline, priority and core.

Graphs are built by the IPC handler: components first, then buffers,
then connections; Complete freezes the topology, rejects cycles and
disconnected graphs, and resolves the scheduling, source and sink
components.
*/
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
)

var (
	// ErrCycle rejects cyclic graphs at completion.
	ErrCycle = errors.New("pipeline graph has a cycle")
	// ErrDisconnected rejects graphs with unreachable components.
	ErrDisconnected = errors.New("pipeline graph is disconnected")
	// ErrDuplicateID rejects reused component or buffer ids within a
	// pipeline.
	ErrDuplicateID = errors.New("duplicate id in pipeline")
	// ErrNotComplete is returned when an operation needs a completed
	// graph.
	ErrNotComplete = errors.New("pipeline not completed")
)

// TimeDomain selects what paces the pipeline.
type TimeDomain uint8

const (
	// DomainTimer schedules on the platform timer.
	DomainTimer TimeDomain = iota
	// DomainDMA schedules on DMA completion interrupts.
	DomainDMA
)

func (t TimeDomain) String() string {
	if t == DomainDMA {
		return "dma"
	}
	return "timer"
}

// Config carries pipeline construction parameters.
type Config struct {
	ID         uint32
	Core       int
	Priority   int
	DeadlineUS uint32
	PeriodUS   uint32
	TimeDomain TimeDomain
	Direction  component.Direction
	Log        *logrus.Entry
}

// Pipeline is one scheduling unit of the graph.
type Pipeline struct {
	ID         uint32
	UID        string
	Core       int
	Priority   int
	DeadlineUS uint32
	PeriodUS   uint32
	TimeDomain TimeDomain
	Direction  component.Direction

	State component.State

	// resolved by Complete
	Sched  *component.Device
	Source *component.Device
	Sink   *component.Device

	comps   []*component.Device
	buffers []*buffer.Buffer
	order   []*component.Device

	log *logrus.Entry

	xruns      atomic.Int64
	recoveries atomic.Int64
	lastXrun   atomic.Int64 // unix nanos
}

// New creates an empty pipeline.
func New(cfg Config) *Pipeline {
	period := cfg.PeriodUS
	if period == 0 {
		period = 1000
	}
	deadline := cfg.DeadlineUS
	if deadline == 0 {
		deadline = period
	}
	return &Pipeline{
		ID:         cfg.ID,
		UID:        xid.New().String(),
		Core:       cfg.Core,
		Priority:   cfg.Priority,
		DeadlineUS: deadline,
		PeriodUS:   period,
		TimeDomain: cfg.TimeDomain,
		Direction:  cfg.Direction,
		State:      component.StateInit,
		log:        cfg.Log,
	}
}

// Add registers a component with the pipeline. IDs are unique within a
// pipeline; ambiguous topologies are rejected, not guessed at.
func (p *Pipeline) Add(d *component.Device) error {
	for _, have := range p.comps {
		if have.ID == d.ID {
			return fmt.Errorf("%w: component %d", ErrDuplicateID, d.ID)
		}
	}
	d.Pipeline = p.ID
	p.comps = append(p.comps, d)
	p.order = nil
	return nil
}

// AddBuffer registers a buffer with the pipeline.
func (p *Pipeline) AddBuffer(b *buffer.Buffer) error {
	for _, have := range p.buffers {
		if have.ID() == b.ID() {
			return fmt.Errorf("%w: buffer %d", ErrDuplicateID, b.ID())
		}
	}
	p.buffers = append(p.buffers, b)
	p.order = nil
	return nil
}

// ConnectSource attaches a buffer downstream of a component: the
// component produces into the buffer.
func (p *Pipeline) ConnectSource(d *component.Device, b *buffer.Buffer) error {
	return d.AttachSink(b)
}

// ConnectSink attaches a component downstream of a buffer: the
// component consumes from the buffer.
func (p *Pipeline) ConnectSink(b *buffer.Buffer, d *component.Device) error {
	return d.AttachSource(b)
}

// Components returns the registered components.
func (p *Pipeline) Components() []*component.Device { return p.comps }

// Buffers returns the registered buffers.
func (p *Pipeline) Buffers() []*buffer.Buffer { return p.buffers }

// Order returns the topological walk order resolved by Complete.
func (p *Pipeline) Order() []*component.Device { return p.order }

// Xruns reports missed deadlines since start.
func (p *Pipeline) Xruns() int { return int(p.xruns.Load()) }

// Recoveries reports completed xrun recovery cycles.
func (p *Pipeline) Recoveries() int { return int(p.recoveries.Load()) }

// LastXrun returns the time of the most recent xrun.
func (p *Pipeline) LastXrun() time.Time {
	n := p.lastXrun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline %d (core %d, %v, %dus)", p.ID, p.Core, p.TimeDomain, p.PeriodUS)
}
