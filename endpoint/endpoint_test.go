package endpoint_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"

	adspaudio "github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/endpoint"
	"github.com/aupipe/adsp/module"
)

var format = adspaudio.S32LE(48000, 2)

const periodBytes = 48 * 8

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 253)
	}
	return b
}

func hostDevice(t *testing.T, spec *endpoint.HostSpec) (*component.Device, *endpoint.Host, *buffer.Buffer) {
	t.Helper()
	drv := endpoint.HostDriver(module.Config{})
	d, err := drv.New(component.Config{ID: 1, Frames: 48}, spec)
	assert.NoError(t, err)
	b, err := buffer.Alloc(10, 8*periodBytes, format)
	assert.NoError(t, err)
	assert.NoError(t, d.AttachSink(b))
	h := module.Proc(d).Iface.(*endpoint.Host)
	return d, h, b
}

func TestHostPlaybackCopiesPeriods(t *testing.T) {
	d, h, b := hostDevice(t, nil)
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))

	payload := pattern(2 * periodBytes)
	n, err := h.Feed(payload)
	assert.NoError(t, err)
	assert.Equal(t, len(payload), n)

	// one descriptor per pass
	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, periodBytes, b.Available())
	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, 2*periodBytes, b.Available())

	pos, err := h.Position(module.Proc(d))
	assert.NoError(t, err)
	assert.Equal(t, uint64(96), pos)
}

func TestHostFormatList(t *testing.T) {
	spec := &endpoint.HostSpec{Formats: []adspaudio.Format{
		adspaudio.S16LE(48000, 2),
		adspaudio.S32LE(48000, 2),
	}}
	d, _, _ := hostDevice(t, spec)

	assert.NoError(t, d.Ops.Params(d, adspaudio.S32LE(48000, 2)))
	assert.ErrorIs(t, d.Ops.Params(d, adspaudio.S24LE(48000, 2)), adspaudio.ErrInvalidFormat)
}

func TestHostDrainTimeoutForcesStop(t *testing.T) {
	d, h, b := hostDevice(t, &endpoint.HostSpec{DrainTimeout: 2 * time.Millisecond})
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))

	_, err := h.Feed(pattern(periodBytes))
	assert.NoError(t, err)
	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, periodBytes, b.Available())

	// nothing consumes the buffer, so the drain must hit the deadline
	start := time.Now()
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStop))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
	assert.Equal(t, 1, h.ForcedStops())
	assert.Equal(t, component.StatePrepare, d.State)
}

func daiDevice(t *testing.T, spec *endpoint.DAISpec) (*component.Device, *endpoint.DAI, *buffer.Buffer) {
	t.Helper()
	drv := endpoint.DAIDriver(module.Config{})
	d, err := drv.New(component.Config{ID: 2, Frames: 48}, spec)
	assert.NoError(t, err)
	b, err := buffer.Alloc(11, 8*periodBytes, format)
	assert.NoError(t, err)
	assert.NoError(t, d.AttachSource(b))
	dai := module.Proc(d).Iface.(*endpoint.DAI)
	return d, dai, b
}

func TestDAIPlaybackToWire(t *testing.T) {
	d, dai, b := daiDevice(t, nil)
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))

	payload := pattern(periodBytes)
	snk := b.Sink()
	head, tail := snk.Write(len(payload))
	n := copy(head, payload)
	copy(tail, payload[n:])
	assert.NoError(t, snk.Produce(len(payload)))

	assert.NoError(t, d.Ops.Copy(d))
	got := make([]byte, periodBytes)
	rn, err := dai.Captured(got)
	assert.NoError(t, err)
	assert.Equal(t, periodBytes, rn)
	assert.Equal(t, payload, got)
	assert.Zero(t, dai.Underruns())
}

func TestDAIUnderrunCounted(t *testing.T) {
	d, dai, _ := daiDevice(t, nil)
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))

	// active pass with an empty source starves the hardware
	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, 1, dai.Underruns())
}

func TestDAIHWParams(t *testing.T) {
	hw := adspaudio.S32LE(48000, 2)
	d, _, _ := daiDevice(t, &endpoint.DAISpec{Format: hw})
	assert.NoError(t, d.Ops.Params(d, hw))

	got, err := module.HWParams(d)
	assert.NoError(t, err)
	assert.Equal(t, hw, got)

	// stream format must match the hardware
	assert.ErrorIs(t, d.Ops.Params(d, adspaudio.S16LE(48000, 2)), adspaudio.ErrInvalidFormat)
}

func TestDAITimestamps(t *testing.T) {
	d, _, b := daiDevice(t, nil)
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))

	_, err := module.TSGet(d)
	assert.ErrorIs(t, err, component.ErrNotSupported)

	assert.NoError(t, module.TSConfig(d))
	assert.NoError(t, module.TSStart(d))

	assert.NoError(t, b.Sink().Produce(periodBytes))
	assert.NoError(t, d.Ops.Copy(d))

	ts, err := module.TSGet(d)
	assert.NoError(t, err)
	assert.Equal(t, uint64(48), ts)
	assert.NoError(t, module.TSStop(d))
}

func TestLoadWAV(t *testing.T) {
	// build a small wav in memory
	var raw bytes.Buffer
	enc := wav.NewEncoder(&seekBuffer{buf: &raw}, 48000, 32, 2, 1)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		Data:           []int{1, -1, 2, -2, 3, -3, 4, -4},
		SourceBitDepth: 32,
	}
	assert.NoError(t, enc.Write(ib))
	assert.NoError(t, enc.Close())

	d, h, _ := hostDevice(t, nil)
	assert.NoError(t, d.Ops.Params(d, format))

	n, err := h.LoadWAV(bytes.NewReader(raw.Bytes()))
	assert.NoError(t, err)
	assert.Equal(t, len(ib.Data)*4, n)
}

// seekBuffer adapts bytes.Buffer to the encoder's WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos < s.buf.Len() {
		// overwrite in place for header rewrites
		b := s.buf.Bytes()
		n := copy(b[s.pos:], p)
		if n < len(p) {
			s.buf.Write(p[n:])
		}
		s.pos += len(p)
		return len(p), nil
	}
	n, err := s.buf.Write(p)
	s.pos += n
	return n, err
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = int(offset)
	case 1:
		s.pos += int(offset)
	case 2:
		s.pos = s.buf.Len() + int(offset)
	}
	return int64(s.pos), nil
}
