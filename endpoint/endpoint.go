/*
Package endpoint implements the host and DAI gateway components. Both
are hosted by the module adapter through its endpoint operations and
bypass the adapter's buffering: a copy pass is a DMA descriptor refill
against the gateway ring.

The DMA engines are modelled as rings the far side (host memory, the
hardware FIFO) reads and writes; drain deadlines follow the platform
constants.
*/
package endpoint

import "time"

// Platform DMA configuration.
const (
	// HostPeriodFrames is the host DMA burst in frames.
	HostPeriodFrames = 48
	// DAIPeriodFrames is the hardware DMA burst in frames.
	DAIPeriodFrames = 48

	// HostDrainTimeout bounds the host-side drain on stop.
	HostDrainTimeout = 50 * time.Millisecond
	// DMADrainTimeout bounds the hardware channel drain on stop.
	DMADrainTimeout = 1333 * time.Microsecond

	// drainPoll is the wait step while draining in-flight data.
	drainPoll = 100 * time.Microsecond
)
