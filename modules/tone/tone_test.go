package tone_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/modules/tone"
)

var format = audio.S32LE(48000, 2)

func device(t *testing.T, spec *tone.Spec) (*component.Device, *buffer.Buffer) {
	t.Helper()
	drv := tone.Driver(module.Config{})
	d, err := drv.New(component.Config{ID: 1, Frames: 48}, spec)
	assert.NoError(t, err)
	snk, err := buffer.Alloc(10, 8*48*format.FrameBytes(), format)
	assert.NoError(t, err)
	assert.NoError(t, d.AttachSink(snk))
	assert.NoError(t, d.Ops.Params(d, format))
	assert.NoError(t, d.Ops.Prepare(d))
	assert.NoError(t, d.Ops.Trigger(d, component.TriggerStart))
	return d, snk
}

func TestGeneratesOnePeriodPerPass(t *testing.T) {
	d, snk := device(t, nil)

	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, 48*format.FrameBytes(), snk.Available())
}

func TestAmplitudeBounded(t *testing.T) {
	d, snk := device(t, &tone.Spec{FrequencyHz: 1000, Amplitude: 0.25})

	for i := 0; i < 4; i++ {
		assert.NoError(t, d.Ops.Copy(d))
	}
	n := snk.Available()
	src := snk.Source()
	head, tail := src.Read(n)
	w := audio.Window{Head: head, Tail: tail}

	limitFrac := 0.26
	limit := int32(limitFrac * float64(math.MaxInt32))
	var peak int32
	for off := 0; off < n; off += 4 {
		s := w.S32(off)
		assert.LessOrEqual(t, s, limit)
		assert.GreaterOrEqual(t, s, -limit)
		if s > peak {
			peak = s
		}
	}
	// the sine actually swings
	swingFrac := 0.2
	assert.Greater(t, peak, int32(swingFrac*float64(math.MaxInt32)))
}

func TestChannelsCarrySameSample(t *testing.T) {
	d, snk := device(t, nil)
	assert.NoError(t, d.Ops.Copy(d))

	n := snk.Available()
	head, tail := snk.Source().Read(n)
	w := audio.Window{Head: head, Tail: tail}
	for frame := 0; frame < n/format.FrameBytes(); frame++ {
		base := frame * format.FrameBytes()
		assert.Equal(t, w.S32(base), w.S32(base+4), "frame %d", frame)
	}
}

func TestRejectsAboveNyquist(t *testing.T) {
	drv := tone.Driver(module.Config{})
	d, err := drv.New(component.Config{ID: 1, Frames: 48}, &tone.Spec{FrequencyHz: 40000})
	assert.NoError(t, err)
	snk, _ := buffer.Alloc(10, 8*48*format.FrameBytes(), format)
	assert.NoError(t, d.AttachSink(snk))
	assert.NoError(t, d.Ops.Params(d, format))
	assert.ErrorIs(t, d.Ops.Prepare(d), audio.ErrInvalidFormat)
}

func TestFullSinkSuspends(t *testing.T) {
	d, snk := device(t, nil)
	// fill the sink completely
	for i := 0; i < 8; i++ {
		assert.NoError(t, d.Ops.Copy(d))
	}
	assert.Equal(t, snk.Cap(), snk.Available())
	// flow control is swallowed by the adapter
	assert.NoError(t, d.Ops.Copy(d))
	assert.Equal(t, snk.Cap(), snk.Available())
}
