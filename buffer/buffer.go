/*
Package buffer implements the single-producer single-consumer circular
audio buffer that connects components, and the source/sink endpoint API
shared with the DP queue.

A buffer has exactly one producer and one consumer attachment per
direction; fan-out is modelled by cloning buffers upstream. Pointer
fields are owned exclusively by their side, an atomic fill counter makes
progress visible across domains without locks.
*/
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/mem"
)

var (
	// ErrNoData signals an empty source. Flow control, not a failure.
	ErrNoData = errors.New("source empty")
	// ErrNoSpace signals a full sink. Flow control, not a failure.
	ErrNoSpace = errors.New("sink full")
	// ErrAttached is returned when an endpoint side is already occupied.
	ErrAttached = errors.New("buffer side already attached")
	// ErrBadCapacity rejects capacities that do not hold whole frames.
	ErrBadCapacity = errors.New("capacity not a multiple of frame size")
)

// Node is the graph-facing view of a component attached to a buffer end.
// It is satisfied by component devices; the indirection keeps the buffer
// free of back-pointers into the component graph.
type Node interface {
	NodeID() uint32
	NodeState() uint32
}

// Attachment records one occupied buffer end.
type Attachment struct {
	Node Node
	Pin  int
}

// Buffer is a fixed-size circular byte buffer with stream parameters.
type Buffer struct {
	id  uint32
	uid string

	data []byte

	// read is owned by the consumer, write by the producer. fill
	// mediates visibility between the two sides.
	read  int
	write int
	fill  atomic.Int64

	format       audio.Format
	periodFrames int

	ops    mem.Ops
	shared bool

	mu       sync.Mutex
	producer *Attachment
	consumer *Attachment

	endpointOnce sync.Once
	src          *sourceView
	snk          *sinkView
}

// Option configures an allocated buffer.
type Option func(*Buffer) error

// WithMemOps sets the cache maintenance hooks used on the payload.
func WithMemOps(ops mem.Ops) Option {
	return func(b *Buffer) error {
		b.ops = ops
		return nil
	}
}

// WithShared marks the buffer payload as visible across cores. Shared
// buffers require maintenance on every transition.
func WithShared() Option {
	return func(b *Buffer) error {
		b.shared = true
		return nil
	}
}

// WithAlignment requires the capacity to also be a multiple of align,
// for SIMD processing kernels.
func WithAlignment(align int) Option {
	return func(b *Buffer) error {
		if align > 0 && len(b.data)%align != 0 {
			return fmt.Errorf("%w: %d bytes, alignment %d", ErrBadCapacity, len(b.data), align)
		}
		return nil
	}
}

// Alloc creates a buffer of the given capacity. Capacity must be a
// positive multiple of the format frame size.
func Alloc(id uint32, capacity int, f audio.Format, opts ...Option) (*Buffer, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 || capacity%f.FrameBytes() != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame %d", ErrBadCapacity, capacity, f.FrameBytes())
	}
	b := &Buffer{
		id:           id,
		uid:          xid.New().String(),
		data:         make([]byte, capacity),
		format:       f,
		periodFrames: defaultPeriodFrames,
		ops:          mem.Coherent,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// defaultPeriodFrames matches one millisecond at 48 kHz.
const defaultPeriodFrames = 48

// ID returns the topology identifier.
func (b *Buffer) ID() uint32 { return b.id }

// UID returns the unique instance identifier.
func (b *Buffer) UID() string { return b.uid }

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Available returns the bytes readable by the consumer.
func (b *Buffer) Available() int { return int(b.fill.Load()) }

// Free returns the bytes writable by the producer.
func (b *Buffer) Free() int { return len(b.data) - b.Available() }

// Format returns the stream parameters.
func (b *Buffer) Format() audio.Format { return b.format }

// Shared reports whether the payload crosses a coherence domain.
func (b *Buffer) Shared() bool { return b.shared }

// SetFormat updates the stream parameters. The buffer must keep holding
// whole frames of the new format.
func (b *Buffer) SetFormat(f audio.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if len(b.data)%f.FrameBytes() != 0 {
		return fmt.Errorf("%w: %d bytes, frame %d", ErrBadCapacity, len(b.data), f.FrameBytes())
	}
	b.format = f
	return nil
}

// SetPeriod sets the frames the attached components exchange per tick.
// It sizes MinAvailable and MinFree of the endpoints.
func (b *Buffer) SetPeriod(frames int) {
	if frames > 0 {
		b.periodFrames = frames
	}
}

// PeriodFrames returns the per-tick frame count.
func (b *Buffer) PeriodFrames() int { return b.periodFrames }

// Reset zeroes the payload and rewinds both pointers. Only legal while
// neither side is inside a copy pass.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.read = 0
	b.write = 0
	b.fill.Store(0)
}

// AttachProducer occupies the write side.
func (b *Buffer) AttachProducer(n Node, pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer != nil {
		return fmt.Errorf("%w: producer of buffer %d", ErrAttached, b.id)
	}
	b.producer = &Attachment{Node: n, Pin: pin}
	return nil
}

// AttachConsumer occupies the read side.
func (b *Buffer) AttachConsumer(n Node, pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer != nil {
		return fmt.Errorf("%w: consumer of buffer %d", ErrAttached, b.id)
	}
	b.consumer = &Attachment{Node: n, Pin: pin}
	return nil
}

// DetachProducer releases the write side.
func (b *Buffer) DetachProducer() {
	b.mu.Lock()
	b.producer = nil
	b.mu.Unlock()
}

// DetachConsumer releases the read side.
func (b *Buffer) DetachConsumer() {
	b.mu.Lock()
	b.consumer = nil
	b.mu.Unlock()
}

// Producer returns the write-side attachment.
func (b *Buffer) Producer() (Attachment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.producer == nil {
		return Attachment{}, false
	}
	return *b.producer, true
}

// Consumer returns the read-side attachment.
func (b *Buffer) Consumer() (Attachment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer == nil {
		return Attachment{}, false
	}
	return *b.consumer, true
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %d [%d/%d %v]", b.id, b.Available(), b.Cap(), b.format)
}
