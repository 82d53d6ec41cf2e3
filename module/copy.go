package module

import (
	"errors"
	"fmt"

	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
)

// flowControl reports a non-fatal source-empty or sink-full condition.
func flowControl(err error) bool {
	return errors.Is(err, buffer.ErrNoData) || errors.Is(err, buffer.ErrNoSpace)
}

func (adapter) Copy(d *component.Device) error {
	p := Proc(d)

	if ep, ok := p.Iface.(Endpoint); ok && d.Type.Endpoint() {
		return ep.EndpointCopy(p)
	}

	switch p.Mode {
	case ModeAudioStream:
		return p.audioStreamCopy()
	case ModeRawData:
		return p.rawDataCopy()
	case ModeSinkSource:
		if p.Domain == DomainDP {
			return p.dpQueueCopy()
		}
		return p.sinkSourceCopy()
	}
	return fmt.Errorf("%w: unknown processing mode", ErrBadMode)
}

// audioStreamCopy feeds the attached streams to the module in place. At
// most one side may fan out.
func (p *Processing) audioStreamCopy() error {
	d := p.Dev
	if p.MaxSources <= 1 && p.MaxSinks <= 1 &&
		len(d.Sources) == 1 && len(d.Sinks) == 1 {
		return p.streamCopy1to1()
	}
	return p.streamCopyFan()
}

func (p *Processing) streamCopy1to1() error {
	d := p.Dev
	src := d.Sources[0].Source()
	snk := d.Sinks[0].Sink()

	// a side without a settled rate cannot make progress; halt the
	// remainder of the pass
	if src.Format().Rate == 0 || snk.Format().Rate == 0 {
		return component.ErrPathStop
	}

	frames := buffer.AvailFramesAligned(src, snk, p.FrameAlign)
	src.Invalidate(frames * src.Format().FrameBytes())

	in := p.streamIn[0]
	in.Source = src
	in.Frames = frames
	in.Consumed = 0
	out := p.streamOut[0]
	out.Sink = snk
	out.Produced = 0

	// the sink state is not checked against zero-fill producers such
	// as mixout, which generate silence while their source is gone
	outs := p.streamOut[:0:1]
	if consumer, ok := d.Sinks[0].Consumer(); !ok || consumer.Node.NodeState() == uint32(d.State) {
		outs = p.streamOut[:1]
	}

	err := p.Iface.(AudioStreamer).ProcessAudioStream(p, p.streamIn[:1], outs)
	if err != nil && !flowControl(err) {
		in.Consumed = 0
		out.Produced = 0
		return err
	}

	if in.Consumed > 0 {
		p.TotalConsumed += uint64(in.Consumed)
		if cerr := src.Consume(in.Consumed); cerr != nil {
			return cerr
		}
	}
	if out.Produced > 0 {
		p.TotalProduced += uint64(out.Produced)
		snk.Writeback(out.Produced)
		if perr := snk.Produce(out.Produced); perr != nil {
			return perr
		}
	}
	return nil
}

func (p *Processing) streamCopyFan() error {
	d := p.Dev
	mod := p.Iface.(AudioStreamer)

	switch {
	case len(d.Sinks) == 1:
		return p.fanInCopy(mod)
	case len(d.Sources) == 1:
		return p.fanOutCopy(mod)
	}
	return fmt.Errorf("%w: audio-stream fan on both sides", ErrBadMode)
}

// fanInCopy drives a multi-source single-sink module; each source is
// limited against the shared sink.
func (p *Processing) fanInCopy(mod AudioStreamer) error {
	d := p.Dev
	snk := d.Sinks[0].Sink()

	for i, b := range d.Sources {
		in := p.streamIn[i]
		in.Source = nil
		in.Frames = 0
		in.Consumed = 0
		// sources owned by a component in another lifecycle state do
		// not participate in this pass
		if producer, ok := b.Producer(); ok && producer.Node.NodeState() != uint32(d.State) {
			continue
		}
		src := b.Source()
		frames := buffer.AvailFramesAligned(src, snk, p.FrameAlign)
		src.Invalidate(frames * src.Format().FrameBytes())
		in.Source = src
		in.Frames = frames
	}
	out := p.streamOut[0]
	out.Sink = snk
	out.Produced = 0

	outs := p.streamOut[:1]
	if consumer, ok := d.Sinks[0].Consumer(); ok && consumer.Node.NodeState() != uint32(d.State) {
		outs = p.streamOut[:0:1]
	}

	err := mod.ProcessAudioStream(p, p.streamIn, outs)
	if err != nil && !flowControl(err) {
		p.clearStreamAccounting()
		return err
	}

	for i, b := range d.Sources {
		if p.streamIn[i].Source == nil {
			continue
		}
		if c := p.streamIn[i].Consumed; c > 0 {
			if cerr := b.Source().Consume(c); cerr != nil {
				return cerr
			}
		}
	}
	if len(p.streamIn) > 0 {
		p.TotalConsumed += uint64(p.streamIn[0].Consumed)
	}
	if out.Produced > 0 {
		p.TotalProduced += uint64(out.Produced)
		snk.Writeback(out.Produced)
		if perr := snk.Produce(out.Produced); perr != nil {
			return perr
		}
	}
	p.clearStreamAccounting()
	return nil
}

// fanOutCopy drives a single-source multi-sink module. The common
// source advances by the minimum across participating sinks; sinks in a
// different lifecycle state are skipped, no zeros are injected here.
func (p *Processing) fanOutCopy(mod AudioStreamer) error {
	d := p.Dev
	src := d.Sources[0].Source()

	outs := p.outScratch[:0]
	minFrames := -1
	for i, b := range d.Sinks {
		if consumer, ok := b.Consumer(); ok && consumer.Node.NodeState() != uint32(d.State) {
			continue
		}
		snk := b.Sink()
		frames := buffer.AvailFramesAligned(src, snk, p.FrameAlign)
		if minFrames < 0 || frames < minFrames {
			minFrames = frames
		}
		out := p.streamOut[i]
		out.Sink = snk
		out.Produced = 0
		outs = append(outs, out)
	}
	if minFrames < 0 {
		minFrames = src.Available() / src.Format().FrameBytes()
	}
	src.Invalidate(minFrames * src.Format().FrameBytes())

	in := p.streamIn[0]
	in.Source = src
	in.Frames = minFrames
	in.Consumed = 0

	ins := p.streamIn[:1]
	if producer, ok := d.Sources[0].Producer(); ok && producer.Node.NodeState() != uint32(d.State) {
		ins = p.streamIn[:0:1]
	}

	err := mod.ProcessAudioStream(p, ins, outs)
	if err != nil && !flowControl(err) {
		p.clearStreamAccounting()
		return err
	}

	if c := in.Consumed; c > 0 {
		p.TotalConsumed += uint64(c)
		if cerr := src.Consume(c); cerr != nil {
			return cerr
		}
	}
	for _, out := range outs {
		if out.Produced > 0 {
			p.TotalProduced += uint64(out.Produced)
			out.Sink.Writeback(out.Produced)
			if perr := out.Sink.Produce(out.Produced); perr != nil {
				return perr
			}
		}
	}
	p.clearStreamAccounting()
	return nil
}

func (p *Processing) clearStreamAccounting() {
	for _, in := range p.streamIn {
		in.Frames = 0
		in.Consumed = 0
	}
	for _, out := range p.streamOut {
		out.Produced = 0
	}
}

// rawDataCopy moves source bytes into linear scratch, runs the module,
// and drains the output through the intermediate sink buffers.
func (p *Processing) rawDataCopy() error {
	d := p.Dev

	// warm-up: until a full deep-buffer window of input has gathered,
	// feed the downstream side zeros and leave the input untouched
	if p.DeepBuffBytes > 0 {
		avail := 0
		if len(d.Sources) > 0 {
			avail = d.Sources[0].Available()
		}
		if avail < p.DeepBuffBytes {
			for _, b := range d.Sinks {
				buffer.Zero(b.Sink(), p.PeriodBytes)
			}
			return nil
		}
		if d.Log != nil {
			d.Log.WithField("gathered", avail).Debug("deep buffering ended")
		}
		p.DeepBuffBytes = 0
	}

	minFreeFrames := -1
	for _, b := range p.sinkBufs {
		f := b.Free() / b.Format().FrameBytes()
		if minFreeFrames < 0 || f < minFreeFrames {
			minFreeFrames = f
		}
	}

	for i, b := range d.Sources {
		in := p.inputs[i]
		in.Size = 0
		in.Consumed = 0
		// sources owned by a component in another lifecycle state do
		// not participate in this pass
		if producer, ok := b.Producer(); ok && producer.Node.NodeState() != uint32(d.State) {
			continue
		}
		src := b.Source()
		frames := src.Available() / src.Format().FrameBytes()
		if minFreeFrames >= 0 && minFreeFrames < frames {
			frames = minFreeFrames
		}
		bytes := frames * src.Format().FrameBytes()
		if bytes > p.InBuffSize {
			bytes = p.InBuffSize
		}
		src.Invalidate(bytes)
		head, tail := src.Read(bytes)
		n := copy(in.Data, head)
		copy(in.Data[n:], tail)
		in.Size = bytes
	}

	err := p.Iface.(RawProcessor).ProcessRawData(p, p.inputs, p.outputs)
	if err != nil && !flowControl(err) {
		p.clearRawAccounting()
		return err
	}

	for i, b := range d.Sources {
		in := p.inputs[i]
		if in.Consumed > 0 {
			if cerr := b.Source().Consume(in.Consumed); cerr != nil {
				return cerr
			}
		}
		if i == 0 {
			p.TotalConsumed += uint64(in.Consumed)
		}
		in.Size = 0
		in.Consumed = 0
	}

	return p.processOutput()
}

func (p *Processing) clearRawAccounting() {
	for _, in := range p.inputs {
		in.Size = 0
		in.Consumed = 0
	}
	for _, out := range p.outputs {
		out.Size = 0
	}
}

// processOutput copies produced scratch bytes into the intermediate
// buffers and drains those into the attached downstream buffers.
func (p *Processing) processOutput() error {
	d := p.Dev

	for i, b := range p.sinkBufs {
		out := p.outputs[i]
		if out.Size == 0 {
			continue
		}
		snk := b.Sink()
		head, tail := snk.Write(out.Size)
		n := copy(head, out.Data[:out.Size])
		copy(tail, out.Data[n:out.Size])
		if err := snk.Produce(out.Size); err != nil {
			return err
		}
	}

	for i, down := range d.Sinks {
		p.drainIntermediate(p.sinkBufs[i], down, p.outputs[i].Size)
		if i == 0 {
			p.TotalProduced += uint64(p.outputs[i].Size)
		}
		p.outputs[i].Size = 0
	}
	return nil
}

// drainIntermediate moves gathered output toward the downstream buffer.
// When the module produced nothing this pass and less than one period
// is gathered, the drain waits for more data instead of trickling.
func (p *Processing) drainIntermediate(mid, down *buffer.Buffer, produced int) {
	if produced == 0 && mid.Available() < p.PeriodBytes {
		return
	}
	src := mid.Source()
	snk := down.Sink()
	cl := buffer.Limits(src, snk)
	if cl.SourceBytes == 0 {
		return
	}
	buffer.Copy(snk, src, cl.SourceBytes)
}

// sinkSourceCopy lets the module move its own bytes; the adapter only
// records the per-pass byte counts.
func (p *Processing) sinkSourceCopy() error {
	for _, s := range p.sources {
		s.ResetProcessed()
	}
	for _, s := range p.sinks {
		s.ResetProcessed()
	}

	err := p.Iface.(SinkSourceProcessor).ProcessSinkSource(p, p.sources, p.sinks)
	if err != nil && !flowControl(err) {
		return err
	}

	for _, s := range p.sources {
		p.TotalConsumed += uint64(s.Processed())
	}
	for _, s := range p.sinks {
		p.TotalProduced += uint64(s.Processed())
	}
	return nil
}

// dpQueueCopy is the LL half of a DP module: shuttle bytes between the
// attached buffers and the queue shadows, no processing here.
func (p *Processing) dpQueueCopy() error {
	d := p.Dev
	for i, b := range d.Sources {
		q := p.llToDP[i]
		buffer.Copy(q.Sink(), b.Source(), b.Available())
	}
	for i, b := range d.Sinks {
		q := p.dpToLL[i]
		buffer.Copy(b.Sink(), q.Source(), b.Free())
	}
	return nil
}

// DPProcess runs the deferred half of a DP module on its queue
// endpoints. Flow-control returns tell the task to suspend until the
// queues progress.
func DPProcess(p *Processing) error {
	mod, ok := p.Iface.(SinkSourceProcessor)
	if !ok {
		return fmt.Errorf("%w: dp task without sink-source module", ErrBadMode)
	}
	return mod.ProcessSinkSource(p, p.sources, p.sinks)
}
