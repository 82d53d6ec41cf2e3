package pipeline

import (
	"fmt"

	"github.com/aupipe/adsp/component"
)

// Complete freezes the graph. It resolves the scheduling component,
// verifies the subgraph is connected and acyclic, computes the
// topological walk order and identifies the source and sink endpoints.
func (p *Pipeline) Complete(schedID uint32) error {
	var sched *component.Device
	for _, d := range p.comps {
		if d.ID == schedID {
			sched = d
			break
		}
	}
	if sched == nil {
		return fmt.Errorf("%w: scheduling component %d", component.ErrInvalidState, schedID)
	}

	down := p.edges()

	if err := p.rejectCycles(down); err != nil {
		return err
	}
	if err := p.rejectDisconnected(down); err != nil {
		return err
	}

	order, err := p.topoOrder(down)
	if err != nil {
		return err
	}
	p.order = order
	p.Sched = sched
	p.Source = order[0]
	p.Sink = order[len(order)-1]
	p.State = component.StateReady

	if p.log != nil {
		p.log.WithFields(map[string]interface{}{
			"sched":  sched.ID,
			"source": p.Source.ID,
			"sink":   p.Sink.ID,
		}).Debug("pipeline complete")
	}
	return nil
}

// edges maps each component to its in-pipeline downstream neighbours,
// derived from the buffer attachment records.
func (p *Pipeline) edges() map[*component.Device][]*component.Device {
	byNode := make(map[uint32]*component.Device, len(p.comps))
	for _, d := range p.comps {
		byNode[d.ID] = d
	}
	down := make(map[*component.Device][]*component.Device, len(p.comps))
	for _, d := range p.comps {
		down[d] = nil
	}
	for _, d := range p.comps {
		for _, b := range d.Sinks {
			consumer, ok := b.Consumer()
			if !ok {
				continue
			}
			next, ok := byNode[consumer.Node.NodeID()]
			if !ok || next.Pipeline != p.ID {
				// shared buffer into another pipeline
				continue
			}
			down[d] = append(down[d], next)
		}
	}
	return down
}

func (p *Pipeline) rejectCycles(down map[*component.Device][]*component.Device) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*component.Device]int, len(p.comps))
	var visit func(d *component.Device) error
	visit = func(d *component.Device) error {
		color[d] = grey
		for _, next := range down[d] {
			switch color[next] {
			case grey:
				return fmt.Errorf("%w: through component %d", ErrCycle, next.ID)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[d] = black
		return nil
	}
	for _, d := range p.comps {
		if color[d] == white {
			if err := visit(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// rejectDisconnected requires every component to be reachable from
// every other along undirected edges.
func (p *Pipeline) rejectDisconnected(down map[*component.Device][]*component.Device) error {
	if len(p.comps) == 0 {
		return fmt.Errorf("%w: empty pipeline", ErrDisconnected)
	}
	up := make(map[*component.Device][]*component.Device, len(p.comps))
	for d, nexts := range down {
		for _, n := range nexts {
			up[n] = append(up[n], d)
		}
	}
	seen := make(map[*component.Device]bool, len(p.comps))
	stack := []*component.Device{p.comps[0]}
	seen[p.comps[0]] = true
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range append(down[d], up[d]...) {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	for _, d := range p.comps {
		if !seen[d] {
			return fmt.Errorf("%w: component %d unreachable", ErrDisconnected, d.ID)
		}
	}
	return nil
}

// topoOrder produces the copy walk order: sources toward sinks, stable
// with respect to registration order.
func (p *Pipeline) topoOrder(down map[*component.Device][]*component.Device) ([]*component.Device, error) {
	indeg := make(map[*component.Device]int, len(p.comps))
	for _, d := range p.comps {
		indeg[d] = 0
	}
	for _, nexts := range down {
		for _, n := range nexts {
			indeg[n]++
		}
	}
	var queue []*component.Device
	for _, d := range p.comps {
		if indeg[d] == 0 {
			queue = append(queue, d)
		}
	}
	order := make([]*component.Device, 0, len(p.comps))
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		order = append(order, d)
		for _, n := range down[d] {
			indeg[n]--
			if indeg[n] == 0 {
				queue = append(queue, n)
			}
		}
	}
	if len(order) != len(p.comps) {
		return nil, ErrCycle
	}
	return order, nil
}
