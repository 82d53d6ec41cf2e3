package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/module/moduletest"
	"github.com/aupipe/adsp/pipeline"
	"github.com/aupipe/adsp/sched"
)

var format = audio.S32LE(48000, 2)

const periodBytes = 48 * 8

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// line builds a one-module pipeline in -> mod -> out, completed and
// prepared.
func line(t *testing.T, id uint32, mock module.Interface, cfg pipeline.Config) (*pipeline.Pipeline, *buffer.Buffer, *buffer.Buffer) {
	t.Helper()
	if cfg.ID == 0 {
		cfg.ID = id
	}
	p := pipeline.New(cfg)
	d, err := moduletest.Device(id*10, component.TypeVolume, mock, module.Config{})
	assert.NoError(t, err)
	in, err := buffer.Alloc(id*10+1, 8*periodBytes, format)
	assert.NoError(t, err)
	out, err := buffer.Alloc(id*10+2, 8*periodBytes, format)
	assert.NoError(t, err)
	assert.NoError(t, p.Add(d))
	assert.NoError(t, p.AddBuffer(in))
	assert.NoError(t, p.AddBuffer(out))
	assert.NoError(t, d.AttachSource(in))
	assert.NoError(t, d.AttachSink(out))
	assert.NoError(t, p.Complete(d.ID))
	assert.NoError(t, p.Params(format))
	assert.NoError(t, p.Prepare())
	return p, in, out
}

func feed(t *testing.T, b *buffer.Buffer, n int) {
	t.Helper()
	assert.NoError(t, b.Sink().Produce(n))
}

func TestTickRunsActivePipelinesOnly(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.NewLL(sched.WithClock(clock))

	mock := &moduletest.Passthrough{}
	p, in, out := line(t, 1, mock, pipeline.Config{})
	s.Register(p)

	feed(t, in, periodBytes)
	// not started: the tick skips it
	s.Tick()
	assert.Equal(t, 0, out.Available())

	assert.NoError(t, p.Trigger(component.TriggerStart))
	s.Tick()
	assert.Equal(t, periodBytes, out.Available())
	assert.Equal(t, 1, mock.Counter.Processes)
}

func TestSlowerPeriodTicksLess(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.NewLL(sched.WithClock(clock))

	mock := &moduletest.Passthrough{}
	p, in, _ := line(t, 1, mock, pipeline.Config{ID: 1, PeriodUS: 4000, DeadlineUS: 4000})
	s.Register(p)
	assert.NoError(t, p.Trigger(component.TriggerStart))

	feed(t, in, 4*periodBytes)
	for i := 0; i < 8; i++ {
		s.Tick()
	}
	// a 4ms pipeline runs on every fourth 1ms tick
	assert.Equal(t, 2, mock.Counter.Processes)
}

func TestPriorityOrdersTick(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.NewLL(sched.WithClock(clock))

	var order []uint32
	build := func(id uint32, priority int) *pipeline.Pipeline {
		mock := &moduletest.Passthrough{}
		mock.Observer = func() { order = append(order, id) }
		p, in, _ := line(t, id, mock, pipeline.Config{ID: id, Priority: priority})
		assert.NoError(t, p.Trigger(component.TriggerStart))
		feed(t, in, periodBytes)
		return p
	}
	low := build(1, 5)
	high := build(2, 0)

	// registration order says low first; priority must win
	s.Register(low)
	s.Register(high)
	s.Tick()

	assert.Equal(t, []uint32{2, 1}, order)
}

func TestXrunRecoversPipeline(t *testing.T) {
	clock := sched.NewManualClock()
	var events []sched.XrunEvent
	s := sched.NewLL(
		sched.WithClock(clock),
		sched.WithXrunHandler(func(ev sched.XrunEvent) { events = append(events, ev) }),
	)

	mock := &moduletest.Passthrough{Err: errors.New("stalled"), FailOnce: true}
	p, in, out := line(t, 1, mock, pipeline.Config{})
	s.Register(p)
	assert.NoError(t, p.Trigger(component.TriggerStart))

	feed(t, in, periodBytes)
	s.Tick()

	// the failing pass became an xrun and recovery restored ACTIVE
	assert.Equal(t, 1, p.Xruns())
	assert.Equal(t, 1, p.Recoveries())
	assert.Equal(t, component.StateActive, p.State)
	assert.Len(t, events, 1)
	assert.False(t, events[0].Fatal)

	// next tick processes normally
	s.Tick()
	assert.Equal(t, periodBytes, out.Available())
}

func TestRepeatedXrunTurnsFatal(t *testing.T) {
	clock := sched.NewManualClock()
	var events []sched.XrunEvent
	s := sched.NewLL(
		sched.WithClock(clock),
		sched.WithXrunThreshold(2, time.Hour),
		sched.WithXrunHandler(func(ev sched.XrunEvent) { events = append(events, ev) }),
	)

	mock := &moduletest.Passthrough{Err: errors.New("stalled")}
	p, in, _ := line(t, 1, mock, pipeline.Config{})
	s.Register(p)
	assert.NoError(t, p.Trigger(component.TriggerStart))

	for i := 0; i < 4; i++ {
		feed(t, in, periodBytes)
		s.Tick()
	}

	last := events[len(events)-1]
	assert.True(t, last.Fatal)
	assert.NotEqual(t, component.StateActive, p.State)
}

func TestDeadlineOverrunIsXrun(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.NewLL(sched.WithClock(clock))

	mock := &moduletest.Passthrough{}
	// every pass costs 5ms of manual time against a 1ms deadline
	mock.Observer = func() { clock.Advance(5 * time.Millisecond) }
	p, in, _ := line(t, 1, mock, pipeline.Config{})
	s.Register(p)
	assert.NoError(t, p.Trigger(component.TriggerStart))

	feed(t, in, periodBytes)
	s.Tick()
	assert.Equal(t, 1, p.Xruns())
	// recovery kept it schedulable
	assert.Equal(t, component.StateActive, p.State)
}

func TestLLRunStopsOnCancel(t *testing.T) {
	clock := sched.NewManualClock()
	s := sched.NewLL(sched.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	clock.Fire()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestDPProcessesThroughQueues(t *testing.T) {
	clock := sched.NewManualClock()
	pool := sched.NewDP(sched.WithDPClock(clock))

	mock := &moduletest.SinkSource{}
	d, err := moduletest.Device(1, component.TypeEQ, mock, module.Config{Domain: module.DomainDP})
	assert.NoError(t, err)
	in, _ := buffer.Alloc(10, 8*periodBytes, format)
	out, _ := buffer.Alloc(11, 8*periodBytes, format)
	assert.NoError(t, d.AttachSource(in))
	assert.NoError(t, d.AttachSink(out))
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.SetState(component.TriggerStart))

	pool.Register(module.Proc(d))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- pool.Run(ctx) }()

	// LL side: push one period into the module's queue
	feed(t, in, periodBytes)
	assert.NoError(t, d.Ops.Copy(d))

	// the queue swap notification wakes the DP task
	assert.Eventually(t, func() bool {
		return mock.Counter.Processes > 0
	}, time.Second, time.Millisecond)

	// LL side: drain the DP output back into the sink buffer
	assert.Eventually(t, func() bool {
		assert.NoError(t, d.Ops.Copy(d))
		return out.Available() == periodBytes
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-errc)
}
