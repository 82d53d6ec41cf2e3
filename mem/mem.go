/*
Package mem abstracts the memory model of the runtime: cache maintenance
hooks for non-coherent targets and allocation zones partitioned by lifetime.

On coherent targets the maintenance hooks are no-ops. Non-coherent DSP
platforms provide an Ops implementation that calls the platform cache
primitives.
*/
package mem

import (
	"fmt"
	"sync"
)

// Ops is the cache maintenance contract for shared memory regions.
// Invalidate must be called before reading a region another agent has
// written, Writeback after writing a region another agent will read.
type Ops interface {
	Invalidate(b []byte)
	Writeback(b []byte)
}

type coherent struct{}

func (coherent) Invalidate([]byte) {}
func (coherent) Writeback([]byte)  {}

// Coherent is the no-op Ops for cache-coherent targets.
var Coherent Ops = coherent{}

// Zone identifies an allocation lifetime class.
type Zone int

const (
	// ZoneRuntime holds per-prepare allocations local to one core.
	ZoneRuntime Zone = iota
	// ZoneRuntimeShared holds per-prepare allocations visible to all cores.
	ZoneRuntimeShared
	// ZoneBuffer holds audio buffer payloads.
	ZoneBuffer

	numZones
)

func (z Zone) String() string {
	switch z {
	case ZoneRuntime:
		return "runtime"
	case ZoneRuntimeShared:
		return "runtime-shared"
	case ZoneBuffer:
		return "buffer"
	}
	return fmt.Sprintf("zone(%d)", int(z))
}

// Zones accounts allocations per zone. All per-prepare allocations go
// through a Zones instance so tests can assert that real-time paths
// allocate nothing.
type Zones struct {
	mu     sync.Mutex
	allocs [numZones]int64
	bytes  [numZones]int64
}

// Alloc returns a zeroed slice accounted against the zone.
func (z *Zones) Alloc(zone Zone, size int) []byte {
	if size < 0 {
		panic(fmt.Sprintf("mem: negative allocation in %v zone", zone))
	}
	z.mu.Lock()
	z.allocs[zone]++
	z.bytes[zone] += int64(size)
	z.mu.Unlock()
	return make([]byte, size)
}

// Free returns the accounted bytes of b to the zone. The slice itself is
// left to the garbage collector.
func (z *Zones) Free(zone Zone, b []byte) {
	if b == nil {
		return
	}
	z.mu.Lock()
	z.allocs[zone]--
	z.bytes[zone] -= int64(len(b))
	z.mu.Unlock()
}

// Snapshot returns the current allocation counters keyed by zone.
func (z *Zones) Snapshot() map[Zone]int64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	s := make(map[Zone]int64, numZones)
	for i := Zone(0); i < numZones; i++ {
		s[i] = z.bytes[i]
	}
	return s
}
