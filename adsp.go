/*
Package adsp is an audio pipeline runtime: a graph of processing
components and ring buffers transported between a host endpoint and an
audio interface under per-period deadlines.

The packages compose bottom-up: audio formats, buffers and DP queues,
the component model and its registry, the module adapter hosting
plug-in processors, pipelines, and the LL/DP schedulers. The ipc
package consumes host messages; topology instantiates declarative
graph documents.
*/
package adsp

import (
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/endpoint"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/modules/eq"
	"github.com/aupipe/adsp/modules/gain"
	"github.com/aupipe/adsp/modules/mixer"
	"github.com/aupipe/adsp/modules/src"
	"github.com/aupipe/adsp/modules/tone"
)

// RegisterBuiltins registers every built-in component driver with the
// registry, the way system bring-up does before the first topology is
// loaded.
func RegisterBuiltins(reg *component.Registry, base module.Config) error {
	drivers := []*component.Driver{
		endpoint.HostDriver(base),
		endpoint.DAIDriver(base),
		gain.Driver(base),
		mixer.InDriver(base),
		mixer.OutDriver(base),
		tone.Driver(base),
		src.Driver(base),
		eq.Driver(base),
	}
	for _, drv := range drivers {
		if err := reg.Register(drv); err != nil {
			return err
		}
	}
	return nil
}
