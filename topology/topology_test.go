package topology_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aupipe/adsp"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/ipc"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/topology"
)

func TestStaticParses(t *testing.T) {
	doc, err := topology.Static()
	assert.NoError(t, err)
	assert.Len(t, doc.Pipelines, 3)
	assert.NotEmpty(t, doc.Widgets)
	assert.NotEmpty(t, doc.Routes)
}

func TestStaticInstantiates(t *testing.T) {
	reg := component.NewRegistry()
	assert.NoError(t, adsp.RegisterBuiltins(reg, module.Config{}))
	h := ipc.NewHandler(reg)

	doc, err := topology.Static()
	assert.NoError(t, err)
	assert.NoError(t, doc.Instantiate(reg, h))

	p, ok := h.Pipeline(1)
	assert.True(t, ok)
	assert.Equal(t, component.StateReady, p.State)
	assert.Equal(t, uint32(17), p.Sched.ID)

	// all three pipelines completed
	for _, id := range []uint32{1, 2, 3} {
		p, ok := h.Pipeline(id)
		assert.True(t, ok, "pipeline %d", id)
		assert.NotNil(t, p.Sched, "pipeline %d", id)
	}
}

const validDoc = `
[[pipeline]]
id = 1
period = 1000
time_domain = "timer"
direction = "playback"
channels = [2, 2]
rate = [48000, 48000]

[[widget]]
id = 2
class = "gain"
pipeline = 1

[[buffer]]
id = 3
pipeline = 1

[[route]]
source = "2.0"
sink = "3.0"
`

func TestParseValid(t *testing.T) {
	doc, err := topology.Parse(strings.NewReader(validDoc))
	assert.NoError(t, err)
	assert.Len(t, doc.Widgets, 1)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		description string
		mutate      func(string) string
	}{
		{
			description: "duplicate widget id in pipeline",
			mutate: func(s string) string {
				return s + "\n[[widget]]\nid = 2\nclass = \"gain\"\npipeline = 1\n"
			},
		},
		{
			description: "buffer reuses widget id",
			mutate: func(s string) string {
				return s + "\n[[buffer]]\nid = 2\npipeline = 1\n"
			},
		},
		{
			description: "route references undefined id",
			mutate: func(s string) string {
				return s + "\n[[route]]\nsource = \"99.0\"\nsink = \"3.0\"\n"
			},
		},
		{
			description: "route joins two widgets",
			mutate: func(s string) string {
				return s + "\n[[widget]]\nid = 4\nclass = \"gain\"\npipeline = 1\n[[route]]\nsource = \"2.0\"\nsink = \"4.0\"\n"
			},
		},
		{
			description: "bad time domain",
			mutate: func(s string) string {
				return strings.Replace(s, `time_domain = "timer"`, `time_domain = "cron"`, 1)
			},
		},
		{
			description: "inverted rate range",
			mutate: func(s string) string {
				return strings.Replace(s, "rate = [48000, 48000]", "rate = [48000, 8000]", 1)
			},
		},
		{
			description: "widget without class",
			mutate: func(s string) string {
				return strings.Replace(s, `class = "gain"`, `class = ""`, 1)
			},
		},
		{
			description: "widget references unknown pipeline",
			mutate: func(s string) string {
				return strings.Replace(s, "pipeline = 1\n\n[[buffer]]", "pipeline = 7\n\n[[buffer]]", 1)
			},
		},
	}
	for _, test := range tests {
		_, err := topology.Parse(strings.NewReader(test.mutate(validDoc)))
		assert.ErrorIs(t, err, topology.ErrInvalid, test.description)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	doc := validDoc + "\n[[widget]]\nid = 9\nclass = \"gain\"\npipeline = 1\nbogus = true\n"
	_, err := topology.Parse(strings.NewReader(doc))
	assert.ErrorIs(t, err, topology.ErrInvalid)
}

func TestUnknownClassFailsInstantiate(t *testing.T) {
	reg := component.NewRegistry() // empty: no drivers
	h := ipc.NewHandler(reg)
	doc, err := topology.Parse(strings.NewReader(validDoc))
	assert.NoError(t, err)
	assert.ErrorIs(t, doc.Instantiate(reg, h), topology.ErrUnknownClass)

	// unwind removed the partially created pipeline
	_, ok := h.Pipeline(1)
	assert.False(t, ok)
}
