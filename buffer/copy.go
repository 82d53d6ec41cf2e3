package buffer

// Copy moves up to n bytes from src to dst, honoring the wrap of both
// rings. The transfer is limited by available data and free space; the
// number of bytes actually moved is returned. Cache maintenance is
// applied on both endpoints.
func Copy(dst Sink, src Source, n int) int {
	if m := src.Available(); n > m {
		n = m
	}
	if m := dst.Free(); n > m {
		n = m
	}
	if n <= 0 {
		return 0
	}
	src.Invalidate(n)
	sh, st := src.Read(n)
	dh, dt := dst.Write(n)
	copySplit(dh, dt, sh, st)
	dst.Writeback(n)
	// produce/consume cannot fail here, the limits were taken above
	dst.Produce(n)  //nolint:errcheck
	src.Consume(n)  //nolint:errcheck
	return n
}

// copySplit copies the concatenation of sh+st into dh+dt. Caller
// guarantees equal total lengths.
func copySplit(dh, dt, sh, st []byte) {
	written := copy(dh, sh)
	if written < len(sh) {
		copy(dt, sh[written:])
		copy(dt[len(sh)-written:], st)
		return
	}
	rest := copy(dh[written:], st)
	copy(dt, st[rest:])
}

// Zero produces n zero bytes into dst, up to its free space. Returns the
// bytes produced.
func Zero(dst Sink, n int) int {
	if m := dst.Free(); n > m {
		n = m
	}
	if n <= 0 {
		return 0
	}
	head, tail := dst.Write(n)
	for i := range head {
		head[i] = 0
	}
	for i := range tail {
		tail[i] = 0
	}
	dst.Writeback(n)
	dst.Produce(n) //nolint:errcheck
	return n
}

// AvailFrames returns min(available, free) in whole frames of the pair,
// using the source frame size. Formats of both sides must agree on the
// frame size for the result to be meaningful.
func AvailFrames(src Source, dst Sink) int {
	fb := src.Format().FrameBytes()
	if fb == 0 {
		return 0
	}
	frames := src.Available() / fb
	if f := dst.Free() / dst.Format().FrameBytes(); f < frames {
		frames = f
	}
	return frames
}

// AvailFramesAligned is AvailFrames rounded down to a multiple of align
// frames. Align below one is treated as one.
func AvailFramesAligned(src Source, dst Sink, align int) int {
	frames := AvailFrames(src, dst)
	if align > 1 {
		frames -= frames % align
	}
	return frames
}

// CopyLimits describes the largest legal transfer between a pair.
type CopyLimits struct {
	Frames        int
	SourceBytes   int
	SinkBytes     int
	SourceFrameSz int
	SinkFrameSz   int
}

// Limits computes the per-pair copy limits the way endpoint refills and
// intermediate drains size their transfers.
func Limits(src Source, dst Sink) CopyLimits {
	cl := CopyLimits{
		SourceFrameSz: src.Format().FrameBytes(),
		SinkFrameSz:   dst.Format().FrameBytes(),
	}
	cl.Frames = AvailFrames(src, dst)
	cl.SourceBytes = cl.Frames * cl.SourceFrameSz
	cl.SinkBytes = cl.Frames * cl.SinkFrameSz
	return cl
}
