package mem

import "sync/atomic"

// Counting is an Ops implementation that counts maintenance calls. It is
// used by tests and by non-coherent bring-up to verify that invalidate
// and writeback happen where the buffer contract requires them.
type Counting struct {
	invalidates atomic.Int64
	writebacks  atomic.Int64
	invalidated atomic.Int64
	written     atomic.Int64
}

func (c *Counting) Invalidate(b []byte) {
	c.invalidates.Add(1)
	c.invalidated.Add(int64(len(b)))
}

func (c *Counting) Writeback(b []byte) {
	c.writebacks.Add(1)
	c.written.Add(int64(len(b)))
}

// Invalidates returns the number of Invalidate calls observed.
func (c *Counting) Invalidates() int64 { return c.invalidates.Load() }

// Writebacks returns the number of Writeback calls observed.
func (c *Counting) Writebacks() int64 { return c.writebacks.Load() }

// WrittenBytes returns the total bytes passed to Writeback.
func (c *Counting) WrittenBytes() int64 { return c.written.Load() }

// InvalidatedBytes returns the total bytes passed to Invalidate.
func (c *Counting) InvalidatedBytes() int64 { return c.invalidated.Load() }
