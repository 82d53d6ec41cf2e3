package trace_test

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/aupipe/adsp/trace"
)

func TestStatusRegPanic(t *testing.T) {
	var r trace.StatusReg
	r.Panic(trace.PanicBadState)
	assert.Equal(t, uint32(trace.PanicMask|trace.PanicBadState), r.Status())

	// top status bits survive a second panic
	r.Panic(trace.PanicCorruption)
	assert.Equal(t, uint32(trace.PanicMask|trace.PanicCorruption), r.Status())
}

func TestStatusRegPoint(t *testing.T) {
	var r trace.StatusReg
	r.Point(0x42)
	assert.Equal(t, uint32(0x42), r.ErrCode())
}

func TestDMATraceDrain(t *testing.T) {
	var out bytes.Buffer
	tr := trace.NewDMATrace(&out)

	tr.Write([]byte("hello "))
	tr.Write([]byte("world"))
	assert.NoError(t, tr.Drain())
	assert.Equal(t, "hello world", out.String())

	// empty drain writes nothing
	assert.NoError(t, tr.Drain())
	assert.Equal(t, "hello world", out.String())
}

func TestDMATraceOverrun(t *testing.T) {
	var out bytes.Buffer
	tr := trace.NewDMATrace(&out)

	big := make([]byte, trace.LocalSize)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	tr.Write(big)
	tr.Write([]byte("xyz"))
	assert.Equal(t, 3, tr.Dropped())

	assert.NoError(t, tr.Drain())
	drained := out.Bytes()
	assert.Len(t, drained, trace.LocalSize)
	// the newest bytes survive
	assert.Equal(t, "xyz", string(drained[len(drained)-3:]))
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := trace.NewMetrics(reg)
	m.Xruns.WithLabelValues("p1").Inc()
	m.BytesMoved.WithLabelValues("host", "playback").Add(384)

	families, err := reg.Gather()
	assert.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["adsp_pipeline_xruns_total"])
	assert.True(t, names["adsp_component_bytes_total"])
}
