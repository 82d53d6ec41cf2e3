/*
Package dpqueue implements the double-buffered queue that carries audio
between the low-latency and deferred-processing domains, or between two
cores.

A queue owns two buffers: one exposed to the producer, one to the
consumer. When the consumer buffer is drained and the producer buffer
holds at least a full data portion, the two are exchanged under an
atomic swap, so the consumer can never observe a torn buffer. Shared
mode adds cache maintenance on the transitions.
*/
package dpqueue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/mem"
)

// Mode selects the backing memory of the queue.
type Mode uint8

const (
	// Local keeps both slots in single-core memory.
	Local Mode = iota
	// Shared places the slots in cross-core memory; transitions
	// invalidate and write back.
	Shared
)

// State describes the queue fill level.
type State uint8

const (
	Empty State = iota
	Partial
	Full
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Queue is a two-slot swap buffer with buffer-compatible endpoints.
type Queue struct {
	mode Mode

	// ibs is the data portion the consumer side processes at once,
	// obs the portion the producer side delivers at once.
	ibs int
	obs int

	// swapMu orders slot exchange against endpoint access from both
	// domains. Held only for pointer flips and fill checks.
	swapMu   sync.Mutex
	producer *buffer.Buffer
	consumer *buffer.Buffer

	src *source
	snk *sink

	notify chan struct{}
	swaps  atomic.Int64
}

// New creates a queue sized for the endpoint portions of the buffer it
// shadows: each slot holds max(minAvailable, minFree) rounded up to
// whole frames.
func New(minAvailable, minFree int, mode Mode, f audio.Format, opts ...buffer.Option) (*Queue, error) {
	size := minAvailable
	if minFree > size {
		size = minFree
	}
	if size <= 0 {
		return nil, fmt.Errorf("dpqueue: portion sizes %d/%d", minAvailable, minFree)
	}
	fb := f.FrameBytes()
	if rem := size % fb; rem != 0 {
		size += fb - rem
	}
	if mode == Shared {
		opts = append(opts, buffer.WithShared())
	}
	p, err := buffer.Alloc(0, size, f, opts...)
	if err != nil {
		return nil, err
	}
	c, err := buffer.Alloc(0, size, f, opts...)
	if err != nil {
		return nil, err
	}
	p.SetPeriod(f.Frames(minFree))
	c.SetPeriod(f.Frames(minAvailable))
	q := &Queue{
		mode:     mode,
		ibs:      minAvailable,
		obs:      minFree,
		producer: p,
		consumer: c,
		notify:   make(chan struct{}, 1),
	}
	q.src = &source{q: q}
	q.snk = &sink{q: q}
	return q, nil
}

// WithMemOps forwards the cache maintenance hooks to both slots.
func WithMemOps(ops mem.Ops) buffer.Option {
	return buffer.WithMemOps(ops)
}

// Source returns the consumer-side endpoint.
func (q *Queue) Source() buffer.Source { return q.src }

// Sink returns the producer-side endpoint.
func (q *Queue) Sink() buffer.Sink { return q.snk }

// State reports the combined fill level of both slots.
func (q *Queue) State() State {
	q.swapMu.Lock()
	defer q.swapMu.Unlock()
	fill := q.producer.Available() + q.consumer.Available()
	switch {
	case fill == 0:
		return Empty
	case q.producer.Free() == 0 && q.consumer.Free() == 0:
		return Full
	}
	return Partial
}

// Notify returns the channel pulsed after every slot exchange. The DP
// task waits on it instead of polling the queue.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Swaps returns the number of slot exchanges performed.
func (q *Queue) Swaps() int { return int(q.swaps.Load()) }

// Free releases the queue slots. The queue must not be used afterwards.
func (q *Queue) Free() {
	q.swapMu.Lock()
	q.producer = nil
	q.consumer = nil
	q.swapMu.Unlock()
}

// trySwap exchanges the slots when the consumer slot is drained and the
// producer slot holds at least one consumer portion.
func (q *Queue) trySwap() {
	q.swapMu.Lock()
	if q.producer == nil || q.consumer == nil {
		q.swapMu.Unlock()
		return
	}
	if q.consumer.Available() != 0 || q.producer.Available() < q.ibs {
		q.swapMu.Unlock()
		return
	}
	q.producer, q.consumer = q.consumer, q.producer
	q.swaps.Add(1)
	q.swapMu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) consumerBuf() *buffer.Buffer {
	q.swapMu.Lock()
	defer q.swapMu.Unlock()
	return q.consumer
}

func (q *Queue) producerBuf() *buffer.Buffer {
	q.swapMu.Lock()
	defer q.swapMu.Unlock()
	return q.producer
}
