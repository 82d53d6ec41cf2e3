package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/aupipe/adsp/audio"
)

// Source is the read side of a stream. Read returns views of the next n
// readable bytes split at the wrap point; Consume advances the read
// pointer. Invalidate must precede reads on non-coherent payloads.
type Source interface {
	Available() int
	MinAvailable() int
	Format() audio.Format
	Read(n int) (head, tail []byte)
	Consume(n int) error
	Invalidate(n int)
	Processed() int
	ResetProcessed()
}

// Sink is the write side of a stream. Write returns views of the next n
// writable bytes split at the wrap point; Produce publishes them.
// Writeback must be called before Produce on non-coherent payloads.
type Sink interface {
	Free() int
	MinFree() int
	Format() audio.Format
	Write(n int) (head, tail []byte)
	Produce(n int) error
	Writeback(n int)
	Processed() int
	ResetProcessed()
}

// Source returns the consumer-side endpoint. Repeated calls return the
// same endpoint instance.
func (b *Buffer) Source() Source {
	b.endpointOnce.Do(b.makeEndpoints)
	return b.src
}

// Sink returns the producer-side endpoint. Repeated calls return the
// same endpoint instance.
func (b *Buffer) Sink() Sink {
	b.endpointOnce.Do(b.makeEndpoints)
	return b.snk
}

func (b *Buffer) makeEndpoints() {
	b.src = &sourceView{b: b}
	b.snk = &sinkView{b: b}
}

type sourceView struct {
	b         *Buffer
	processed atomic.Int64
}

func (s *sourceView) Available() int       { return s.b.Available() }
func (s *sourceView) MinAvailable() int    { return s.b.format.PeriodBytes(s.b.periodFrames) }
func (s *sourceView) Format() audio.Format { return s.b.format }

func (s *sourceView) Read(n int) (head, tail []byte) {
	if avail := s.b.Available(); n > avail {
		n = avail
	}
	if n <= 0 {
		return nil, nil
	}
	r := s.b.read
	linear := len(s.b.data) - r
	if n <= linear {
		return s.b.data[r : r+n], nil
	}
	return s.b.data[r:], s.b.data[:n-linear]
}

func (s *sourceView) Consume(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 || n > s.b.Available() {
		return fmt.Errorf("%w: consume %d of %d", ErrNoData, n, s.b.Available())
	}
	s.b.read = (s.b.read + n) % len(s.b.data)
	s.b.fill.Add(-int64(n))
	s.processed.Add(int64(n))
	return nil
}

func (s *sourceView) Invalidate(n int) {
	if !s.b.shared {
		return
	}
	head, tail := s.Read(n)
	if head != nil {
		s.b.ops.Invalidate(head)
	}
	if tail != nil {
		s.b.ops.Invalidate(tail)
	}
}

func (s *sourceView) Processed() int  { return int(s.processed.Load()) }
func (s *sourceView) ResetProcessed() { s.processed.Store(0) }

type sinkView struct {
	b         *Buffer
	processed atomic.Int64
}

func (s *sinkView) Free() int            { return s.b.Free() }
func (s *sinkView) MinFree() int         { return s.b.format.PeriodBytes(s.b.periodFrames) }
func (s *sinkView) Format() audio.Format { return s.b.format }

func (s *sinkView) Write(n int) (head, tail []byte) {
	if free := s.b.Free(); n > free {
		n = free
	}
	if n <= 0 {
		return nil, nil
	}
	w := s.b.write
	linear := len(s.b.data) - w
	if n <= linear {
		return s.b.data[w : w+n], nil
	}
	return s.b.data[w:], s.b.data[:n-linear]
}

func (s *sinkView) Produce(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 || n > s.b.Free() {
		return fmt.Errorf("%w: produce %d of %d", ErrNoSpace, n, s.b.Free())
	}
	s.b.write = (s.b.write + n) % len(s.b.data)
	s.b.fill.Add(int64(n))
	s.processed.Add(int64(n))
	return nil
}

func (s *sinkView) Writeback(n int) {
	if !s.b.shared {
		return
	}
	head, tail := s.Write(n)
	if head != nil {
		s.b.ops.Writeback(head)
	}
	if tail != nil {
		s.b.ops.Writeback(tail)
	}
}

func (s *sinkView) Processed() int  { return int(s.processed.Load()) }
func (s *sinkView) ResetProcessed() { s.processed.Store(0) }
