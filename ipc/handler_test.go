package ipc_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/aupipe/adsp"
	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/endpoint"
	"github.com/aupipe/adsp/ipc"
	"github.com/aupipe/adsp/mem"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/modules/gain"
	"github.com/aupipe/adsp/modules/mixer"
	"github.com/aupipe/adsp/pipeline"
	"github.com/aupipe/adsp/sched"
)

var format = audio.S32LE(48000, 2)

const periodBytes = 48 * 8

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rig struct {
	handler *ipc.Handler
	ll      *sched.LL
	clock   *sched.ManualClock
	zones   *mem.Zones
}

func newRig(t *testing.T) *rig {
	t.Helper()
	reg := component.NewRegistry()
	zones := &mem.Zones{}
	assert.NoError(t, adsp.RegisterBuiltins(reg, module.Config{Zones: zones}))

	clock := sched.NewManualClock()
	ll := sched.NewLL(sched.WithClock(clock))
	h := ipc.NewHandler(reg,
		ipc.WithLL(ll),
		ipc.WithBus(ipc.NewBus()),
		ipc.WithZones(zones),
	)
	return &rig{handler: h, ll: ll, clock: clock, zones: zones}
}

// buildPlayback wires host(1) -> b(10) -> gain(2) -> b(11) -> mixout(3)
// -> b(12) -> dai(4) as pipeline 1.
func buildPlayback(t *testing.T, r *rig) (*endpoint.Host, *endpoint.DAI) {
	t.Helper()
	h := r.handler
	_, err := h.NewPipeline(pipeline.Config{ID: 1, PeriodUS: 1000})
	assert.NoError(t, err)

	hostDev, err := h.NewComponent(endpoint.HostUUID,
		component.Config{ID: 1, Pipeline: 1, Frames: 48},
		&endpoint.HostSpec{Formats: []audio.Format{
			audio.S16LE(48000, 2), audio.S24LE(48000, 2), audio.S32LE(48000, 2),
		}})
	assert.NoError(t, err)
	_, err = h.NewComponent(gain.UUID, component.Config{ID: 2, Pipeline: 1, Frames: 48}, nil)
	assert.NoError(t, err)
	_, err = h.NewComponent(mixer.OutUUID, component.Config{ID: 3, Pipeline: 1, Frames: 48}, nil)
	assert.NoError(t, err)
	daiDev, err := h.NewComponent(endpoint.DAIUUID,
		component.Config{ID: 4, Pipeline: 1, Frames: 48}, nil)
	assert.NoError(t, err)

	for _, id := range []uint32{10, 11, 12} {
		_, err = h.NewBuffer(1, id, 8*periodBytes, format)
		assert.NoError(t, err)
	}
	assert.NoError(t, h.Connect(1, 10))
	assert.NoError(t, h.ConnectSink(10, 2))
	assert.NoError(t, h.Connect(2, 11))
	assert.NoError(t, h.ConnectSink(11, 3))
	assert.NoError(t, h.Connect(3, 12))
	assert.NoError(t, h.ConnectSink(12, 4))

	assert.NoError(t, h.CompletePipeline(1, 4))

	return module.Proc(hostDev).Iface.(*endpoint.Host),
		module.Proc(daiDev).Iface.(*endpoint.DAI)
}

func startPlayback(t *testing.T, r *rig) (*endpoint.Host, *endpoint.DAI) {
	t.Helper()
	host, dai := buildPlayback(t, r)
	assert.NoError(t, r.handler.Params(1, format))
	assert.NoError(t, r.handler.Trigger(1, component.TriggerPrepare))
	assert.NoError(t, r.handler.Trigger(1, component.TriggerStart))
	return host, dai
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 101)
	}
	return b
}

// Scenario: host -> gain -> mixout playback at 48kHz/2ch/32bit. Fed a
// period per tick, the sink side carries a full period every tick.
func TestPlaybackPassThrough(t *testing.T) {
	r := newRig(t)
	host, dai := startPlayback(t, r)

	payload := pattern(5 * periodBytes)
	var wire []byte
	for tick := 0; tick < 5; tick++ {
		_, err := host.Feed(payload[tick*periodBytes : (tick+1)*periodBytes])
		assert.NoError(t, err)
		r.ll.Tick()

		got := make([]byte, 2*periodBytes)
		n, err := dai.Captured(got)
		assert.NoError(t, err)
		wire = append(wire, got[:n]...)
	}

	// unity gain end to end: the wire replays the host bytes with no
	// transport delay, each period on the tick it was fed
	assert.Equal(t, payload, wire)
	assert.Zero(t, dai.Underruns())
	p, ok := r.handler.Pipeline(1)
	assert.True(t, ok)
	assert.Zero(t, p.Xruns())
}

// Scenario: two pipelines feed a shared mixer. While the second input
// sits in PREPARE the mix carries the first only; the tick after it
// turns ACTIVE both are mixed, never a torn tick.
func TestTwoInputMixer(t *testing.T) {
	r := newRig(t)
	h := r.handler
	host1, dai := buildPlayback(t, r)

	// second pipeline: host(5) -> b(20) -> gain(6) -> b(21) -> mixout(3)
	_, err := h.NewPipeline(pipeline.Config{ID: 2, PeriodUS: 1000, Priority: -1})
	assert.NoError(t, err)
	host2Dev, err := h.NewComponent(endpoint.HostUUID,
		component.Config{ID: 5, Pipeline: 2, Frames: 48}, nil)
	assert.NoError(t, err)
	_, err = h.NewComponent(gain.UUID, component.Config{ID: 6, Pipeline: 2, Frames: 48}, nil)
	assert.NoError(t, err)
	for _, id := range []uint32{20, 21} {
		_, err = h.NewBuffer(2, id, 8*periodBytes, format)
		assert.NoError(t, err)
	}
	assert.NoError(t, h.Connect(5, 20))
	assert.NoError(t, h.ConnectSink(20, 6))
	assert.NoError(t, h.PipelineConnect(6, 21, 3))
	assert.NoError(t, h.CompletePipeline(2, 5))

	assert.NoError(t, h.Params(1, format))
	assert.NoError(t, h.Params(2, format))
	assert.NoError(t, h.Trigger(1, component.TriggerPrepare))
	assert.NoError(t, h.Trigger(2, component.TriggerPrepare))
	assert.NoError(t, h.Trigger(1, component.TriggerStart))

	host2 := module.Proc(host2Dev).Iface.(*endpoint.Host)

	feedS32 := func(host *endpoint.Host, value int32, frames int) {
		buf := make([]byte, frames*format.FrameBytes())
		for i := 0; i < frames*format.Channels; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(value))
		}
		_, err := host.Feed(buf)
		assert.NoError(t, err)
	}

	// input A alone for two ticks
	feedS32(host1, 1000, 96)
	feedS32(host2, 11, 96)
	r.ll.Tick()
	r.ll.Tick()

	drainWire := func() []int32 {
		raw := make([]byte, 4*periodBytes)
		n, err := dai.Captured(raw)
		assert.NoError(t, err)
		out := make([]int32, n/4)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	}
	for _, s := range drainWire() {
		assert.Equal(t, int32(1000), s)
	}

	// B activates between ticks; the next tick mixes both
	assert.NoError(t, h.Trigger(2, component.TriggerStart))
	feedS32(host1, 1000, 96)
	r.ll.Tick()
	r.ll.Tick()
	mixed := drainWire()
	assert.NotEmpty(t, mixed)
	for _, s := range mixed {
		assert.Equal(t, int32(1011), s)
	}
}

// Scenario: a graph cycle is a configuration error at complete, and
// nothing stays allocated.
func TestGraphCycleRejected(t *testing.T) {
	r := newRig(t)
	h := r.handler
	_, err := h.NewPipeline(pipeline.Config{ID: 1, PeriodUS: 1000})
	assert.NoError(t, err)
	_, err = h.NewComponent(mixer.OutUUID, component.Config{ID: 1, Pipeline: 1, Frames: 48}, nil)
	assert.NoError(t, err)
	_, err = h.NewComponent(gain.UUID, component.Config{ID: 2, Pipeline: 1, Frames: 48}, nil)
	assert.NoError(t, err)
	for _, id := range []uint32{10, 11} {
		_, err = h.NewBuffer(1, id, 8*periodBytes, format)
		assert.NoError(t, err)
	}
	// mixer -> gain -> mixer
	assert.NoError(t, h.Connect(1, 10))
	assert.NoError(t, h.ConnectSink(10, 2))
	assert.NoError(t, h.Connect(2, 11))
	assert.NoError(t, h.ConnectSink(11, 1))

	err = h.CompletePipeline(1, 1)
	assert.ErrorIs(t, err, pipeline.ErrCycle)
	assert.Equal(t, ipc.CodeCycle, ipc.ErrorCode(err))

	// tear down leaves no objects behind
	assert.NoError(t, h.FreePipeline(1))
	_, ok := h.Component(1)
	assert.False(t, ok)
	_, ok = h.Pipeline(1)
	assert.False(t, ok)
}

// Scenario: the host offers {16,32,24}-bit; an unoffered depth is a
// configuration error.
func TestFormatNegotiation(t *testing.T) {
	r := newRig(t)
	buildPlayback(t, r)

	// 16-bit is in the host list
	f16 := audio.S16LE(48000, 2)
	assert.NoError(t, r.handler.Params(1, f16))

	// 8-bit is not
	f8 := audio.Format{Rate: 48000, Channels: 2, Container: 1, ValidBits: 8, Sample: audio.Signed}
	err := r.handler.Params(1, f8)
	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
	assert.Equal(t, ipc.CodeInvalidFormat, ipc.ErrorCode(err))
}

func TestDuplicateObjectsRejected(t *testing.T) {
	r := newRig(t)
	h := r.handler
	_, err := h.NewPipeline(pipeline.Config{ID: 1})
	assert.NoError(t, err)
	_, err = h.NewPipeline(pipeline.Config{ID: 1})
	assert.ErrorIs(t, err, ipc.ErrExists)

	_, err = h.NewComponent(gain.UUID, component.Config{ID: 2, Pipeline: 1}, nil)
	assert.NoError(t, err)
	_, err = h.NewComponent(gain.UUID, component.Config{ID: 2, Pipeline: 1}, nil)
	assert.ErrorIs(t, err, ipc.ErrExists)

	_, err = h.NewBuffer(1, 10, 8*periodBytes, format)
	assert.NoError(t, err)
	_, err = h.NewBuffer(1, 10, 8*periodBytes, format)
	assert.ErrorIs(t, err, ipc.ErrExists)

	// unknown pipeline
	_, err = h.NewComponent(gain.UUID, component.Config{ID: 3, Pipeline: 9}, nil)
	assert.ErrorIs(t, err, ipc.ErrNotFound)
}

func TestTriggerIdempotence(t *testing.T) {
	r := newRig(t)
	startPlayback(t, r)

	// repeated triggers of the reached state are quiet no-ops
	assert.NoError(t, r.handler.Trigger(1, component.TriggerStart))
	assert.NoError(t, r.handler.Trigger(1, component.TriggerPrepare))

	p, ok := r.handler.Pipeline(1)
	assert.True(t, ok)
	assert.Equal(t, component.StateActive, p.State)
}

func TestSetDataFragments(t *testing.T) {
	r := newRig(t)
	buildPlayback(t, r)

	// a configuration blob sent through SetData lands on the gain module
	full := make([]byte, 4)
	binary.LittleEndian.PutUint32(full, gain.Unity/2)

	// gain config is single-fragment only; deliver as single
	assert.NoError(t, r.handler.SetData(2, &component.CtrlData{Data: full}))

	out, err := r.handler.GetData(2, 4)
	assert.NoError(t, err)
	assert.Equal(t, uint32(gain.Unity/2), binary.LittleEndian.Uint32(out))
}

func TestFragmentSequenceValidation(t *testing.T) {
	r := newRig(t)
	buildPlayback(t, r)

	// middle fragment without a first
	err := r.handler.SetData(2, &component.CtrlData{MsgIndex: 1, Remaining: 4, Data: make([]byte, 4)})
	assert.ErrorIs(t, err, component.ErrInvalidState)
}

func TestXrunNotificationReachesBus(t *testing.T) {
	reg := component.NewRegistry()
	assert.NoError(t, adsp.RegisterBuiltins(reg, module.Config{}))
	bus := ipc.NewBus()
	clock := sched.NewManualClock()

	var got []ipc.XrunNotification
	unsub := bus.SubscribeXrun(func(n ipc.XrunNotification) { got = append(got, n) })
	defer unsub()

	var h *ipc.Handler
	ll := sched.NewLL(
		sched.WithClock(clock),
		sched.WithXrunHandler(func(ev sched.XrunEvent) { h.HandleXrun(ev) }),
	)
	h = ipc.NewHandler(reg, ipc.WithLL(ll), ipc.WithBus(bus))

	h.HandleXrun(sched.XrunEvent{Pipeline: 7, Count: 2})
	// kelindar dispatch is asynchronous
	assert.Eventually(t, func() bool { return len(got) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint32(7), got[0].Pipeline)
}
