package audio

import "encoding/binary"

// Window is a contiguous sample view over the two halves of a ring
// buffer read or write region. Ring capacities are whole frames, so a
// sample container never straddles the split.
type Window struct {
	Head []byte
	Tail []byte
}

// Len returns the window size in bytes.
func (w Window) Len() int { return len(w.Head) + len(w.Tail) }

// S16 returns the 16-bit sample at byte offset off.
func (w Window) S16(off int) int16 {
	if off < len(w.Head) {
		return int16(binary.LittleEndian.Uint16(w.Head[off:]))
	}
	return int16(binary.LittleEndian.Uint16(w.Tail[off-len(w.Head):]))
}

// SetS16 stores a 16-bit sample at byte offset off.
func (w Window) SetS16(off int, v int16) {
	if off < len(w.Head) {
		binary.LittleEndian.PutUint16(w.Head[off:], uint16(v))
		return
	}
	binary.LittleEndian.PutUint16(w.Tail[off-len(w.Head):], uint16(v))
}

// S32 returns the 32-bit sample at byte offset off.
func (w Window) S32(off int) int32 {
	if off < len(w.Head) {
		return int32(binary.LittleEndian.Uint32(w.Head[off:]))
	}
	return int32(binary.LittleEndian.Uint32(w.Tail[off-len(w.Head):]))
}

// SetS32 stores a 32-bit sample at byte offset off.
func (w Window) SetS32(off int, v int32) {
	if off < len(w.Head) {
		binary.LittleEndian.PutUint32(w.Head[off:], uint32(v))
		return
	}
	binary.LittleEndian.PutUint32(w.Tail[off-len(w.Head):], uint32(v))
}

// ReadSample reads a sample of the given container size at offset off,
// sign-extended from the format valid bits.
func (f Format) ReadSample(w Window, off int) int32 {
	switch f.Container {
	case 2:
		return int32(w.S16(off))
	default:
		v := w.S32(off)
		shift := 32 - uint(f.ValidBits)
		return v << shift >> shift
	}
}

// SetSample stores a sample of the given container size at offset off.
func (f Format) SetSample(w Window, off int, v int32) {
	switch f.Container {
	case 2:
		w.SetS16(off, int16(v))
	default:
		w.SetS32(off, v)
	}
}

// Clamp saturates v to the valid range of the format.
func (f Format) Clamp(v int64) int32 {
	max := int64(1)<<(uint(f.ValidBits)-1) - 1
	min := -max - 1
	if v > max {
		v = max
	} else if v < min {
		v = min
	}
	return int32(v)
}
