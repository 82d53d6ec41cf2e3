package dpqueue

import (
	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
)

// source adapts the consumer slot to the buffer source contract. The
// consumer owns the slot between swaps; a drained slot triggers a swap
// attempt so fresh producer data becomes visible.
type source struct {
	q *Queue
}

func (s *source) Available() int {
	s.q.trySwap()
	if b := s.q.consumerBuf(); b != nil {
		return b.Available()
	}
	return 0
}

func (s *source) MinAvailable() int { return s.q.ibs }

func (s *source) Format() audio.Format {
	if b := s.q.consumerBuf(); b != nil {
		return b.Format()
	}
	return audio.Format{}
}

func (s *source) Read(n int) (head, tail []byte) {
	if b := s.q.consumerBuf(); b != nil {
		return b.Source().Read(n)
	}
	return nil, nil
}

func (s *source) Consume(n int) error {
	b := s.q.consumerBuf()
	if b == nil {
		return buffer.ErrNoData
	}
	if err := b.Source().Consume(n); err != nil {
		return err
	}
	s.q.trySwap()
	return nil
}

func (s *source) Invalidate(n int) {
	if b := s.q.consumerBuf(); b != nil {
		b.Source().Invalidate(n)
	}
}

func (s *source) Processed() int {
	if b := s.q.consumerBuf(); b != nil {
		return b.Source().Processed()
	}
	return 0
}

func (s *source) ResetProcessed() {
	if b := s.q.consumerBuf(); b != nil {
		b.Source().ResetProcessed()
	}
}

// sink adapts the producer slot to the buffer sink contract.
type sink struct {
	q *Queue
}

func (s *sink) Free() int {
	if b := s.q.producerBuf(); b != nil {
		return b.Free()
	}
	return 0
}

func (s *sink) MinFree() int { return s.q.obs }

func (s *sink) Format() audio.Format {
	if b := s.q.producerBuf(); b != nil {
		return b.Format()
	}
	return audio.Format{}
}

func (s *sink) Write(n int) (head, tail []byte) {
	if b := s.q.producerBuf(); b != nil {
		return b.Sink().Write(n)
	}
	return nil, nil
}

func (s *sink) Produce(n int) error {
	b := s.q.producerBuf()
	if b == nil {
		return buffer.ErrNoSpace
	}
	if err := b.Sink().Produce(n); err != nil {
		return err
	}
	s.q.trySwap()
	return nil
}

func (s *sink) Writeback(n int) {
	if b := s.q.producerBuf(); b != nil {
		b.Sink().Writeback(n)
	}
}

func (s *sink) Processed() int {
	if b := s.q.producerBuf(); b != nil {
		return b.Sink().Processed()
	}
	return 0
}

func (s *sink) ResetProcessed() {
	if b := s.q.producerBuf(); b != nil {
		b.Sink().ResetProcessed()
	}
}
