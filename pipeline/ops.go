package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/component"
)

// Params propagates stream parameters from the source endpoint toward
// the sink, letting every component verify and settle its buffers.
func (p *Pipeline) Params(f audio.Format) error {
	if p.order == nil {
		return ErrNotComplete
	}
	for _, d := range p.order {
		if err := d.Ops.Params(d, f); err != nil {
			return fmt.Errorf("params of %v: %w", d, err)
		}
	}
	return nil
}

// Prepare walks the graph allocating per-prepare resources. A
// component reporting path-stop short-circuits the walk: the remainder
// is already prepared or owned by an active sibling.
func (p *Pipeline) Prepare() error {
	if p.order == nil {
		return ErrNotComplete
	}
	for _, d := range p.order {
		if err := d.Ops.Prepare(d); err != nil {
			if errors.Is(err, component.ErrPathStop) {
				break
			}
			return fmt.Errorf("prepare of %v: %w", d, err)
		}
	}
	// a running pipeline answers path-stop and stays ACTIVE
	if p.State != component.StateActive {
		p.State = component.StatePrepare
	}
	return nil
}

// Trigger cascades a lifecycle trigger through the graph. Start-like
// triggers run sink-first so consumers are running before producers;
// stop-like triggers run source-first. Already-set components are
// skipped; path-stop ends the cascade quietly.
func (p *Pipeline) Trigger(t component.Trigger) error {
	if p.order == nil {
		return ErrNotComplete
	}
	walk := p.order
	if t == component.TriggerStart || t == component.TriggerRelease {
		walk = reversed(p.order)
	}
	for _, d := range walk {
		if err := d.Ops.Trigger(d, t); err != nil {
			switch {
			case errors.Is(err, component.ErrAlreadySet):
				continue
			case errors.Is(err, component.ErrPathStop):
				// surface the path stop so the scheduler knows the
				// cascade ended early
				p.syncState()
				return component.ErrPathStop
			default:
				return fmt.Errorf("trigger %v of %v: %w", t, d, err)
			}
		}
	}
	p.syncState()
	return nil
}

// syncState mirrors the scheduling component state on the pipeline.
func (p *Pipeline) syncState() {
	if p.Sched != nil {
		p.State = p.Sched.State
	}
}

func reversed(in []*component.Device) []*component.Device {
	out := make([]*component.Device, len(in))
	for i, d := range in {
		out[len(in)-1-i] = d
	}
	return out
}

// Copy runs one pass: every component exactly once in topological
// order. A path-stop ends the pass without error; anything else is an
// xrun for the scheduler to handle.
func (p *Pipeline) Copy() error {
	if p.order == nil {
		return ErrNotComplete
	}
	for _, d := range p.order {
		if err := d.Ops.Copy(d); err != nil {
			if errors.Is(err, component.ErrPathStop) {
				return nil
			}
			return fmt.Errorf("copy of %v: %w", d, err)
		}
	}
	return nil
}

// Reset releases per-prepare resources in reverse walk order and
// returns every component to READY.
func (p *Pipeline) Reset() error {
	if p.order == nil {
		return ErrNotComplete
	}
	for _, d := range reversed(p.order) {
		if err := d.Ops.Reset(d); err != nil && !errors.Is(err, component.ErrAlreadySet) {
			return fmt.Errorf("reset of %v: %w", d, err)
		}
	}
	p.State = component.StateReady
	return nil
}

// Free destroys the graph: resets where needed and releases every
// component and buffer in reverse creation order.
func (p *Pipeline) Free() error {
	for i := len(p.comps) - 1; i >= 0; i-- {
		d := p.comps[i]
		if err := d.Ops.Free(d); err != nil {
			return fmt.Errorf("free of %v: %w", d, err)
		}
	}
	p.comps = nil
	p.buffers = nil
	p.order = nil
	p.Sched, p.Source, p.Sink = nil, nil, nil
	p.State = component.StateInit
	return nil
}

// RecordXrun notes a missed deadline.
func (p *Pipeline) RecordXrun() {
	p.xruns.Add(1)
	p.lastXrun.Store(time.Now().UnixNano())
	if p.log != nil {
		p.log.WithField("count", p.xruns.Load()).Warn("pipeline xrun")
	}
}

// Recover restarts an xrun-stopped pipeline: stop, re-prepare, start.
// Per-prepare resources survive the stop, so nothing allocates here.
func (p *Pipeline) Recover() error {
	if err := p.Trigger(component.TriggerStop); err != nil && !errors.Is(err, component.ErrPathStop) {
		return err
	}
	if err := p.Prepare(); err != nil {
		return err
	}
	if err := p.Trigger(component.TriggerStart); err != nil && !errors.Is(err, component.ErrPathStop) {
		return err
	}
	p.recoveries.Add(1)
	return nil
}
