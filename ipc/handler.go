/*
Package ipc consumes the abstract host messages that build, configure
and drive the pipeline graph. Each call is atomic: configuration and
resource errors unwind anything the call partially created, in reverse
creation order, before the error is returned.
*/
package ipc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aupipe/adsp/audio"
	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/mem"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/pipeline"
	"github.com/aupipe/adsp/sched"
	"github.com/aupipe/adsp/trace"
)

var (
	// ErrExists rejects object ids already in use.
	ErrExists = errors.New("object id already in use")
	// ErrNotFound is returned for unknown object ids.
	ErrNotFound = errors.New("no such object")
)

// Option configures the handler.
type Option func(*Handler)

// WithLL attaches the low-latency scheduler pipelines register with.
func WithLL(s *sched.LL) Option {
	return func(h *Handler) { h.ll = s }
}

// WithDP attaches the deferred-processing pool.
func WithDP(d *sched.DP) Option {
	return func(h *Handler) { h.dp = d }
}

// WithBus attaches the host notification bus.
func WithBus(b *Bus) Option {
	return func(h *Handler) { h.bus = b }
}

// WithLogger attaches a logger.
func WithLogger(l trace.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithZones attaches the allocation accounting.
func WithZones(z *mem.Zones) Option {
	return func(h *Handler) { h.zones = z }
}

// fragState tracks one in-flight fragmented configuration blob.
type fragState struct {
	total    int
	received int
}

// Handler owns the object tables the host messages operate on.
type Handler struct {
	mu sync.Mutex

	registry *component.Registry
	ll       *sched.LL
	dp       *sched.DP
	bus      *Bus
	log      trace.Logger
	zones    *mem.Zones

	pipelines map[uint32]*pipeline.Pipeline
	comps     map[uint32]*component.Device
	buffers   map[uint32]*buffer.Buffer

	frags map[uint32]*fragState
}

// NewHandler creates a handler around the injected driver registry.
func NewHandler(reg *component.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:  reg,
		pipelines: make(map[uint32]*pipeline.Pipeline),
		comps:     make(map[uint32]*component.Device),
		buffers:   make(map[uint32]*buffer.Buffer),
		frags:     make(map[uint32]*fragState),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.zones == nil {
		h.zones = &mem.Zones{}
	}
	return h
}

// Zones exposes the allocation accounting used by created objects.
func (h *Handler) Zones() *mem.Zones { return h.zones }

// NewPipeline handles new_pipeline.
func (h *Handler) NewPipeline(cfg pipeline.Config) (*pipeline.Pipeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pipelines[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: pipeline %d", ErrExists, cfg.ID)
	}
	if cfg.Log == nil && h.log != nil {
		cfg.Log = trace.WithPipeline(h.log, cfg.ID, cfg.Core)
	}
	p := pipeline.New(cfg)
	h.pipelines[cfg.ID] = p
	return p, nil
}

// NewComponent handles new_component: dispatch to the driver, then
// register the instance with its pipeline. Failures free the instance.
func (h *Handler) NewComponent(driver uuid.UUID, cfg component.Config,
	spec interface{}) (*component.Device, error) {

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.comps[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: component %d", ErrExists, cfg.ID)
	}
	p, ok := h.pipelines[cfg.Pipeline]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %d", ErrNotFound, cfg.Pipeline)
	}
	if cfg.Log == nil && h.log != nil {
		cfg.Log = trace.WithComponent(h.log, "comp", cfg.ID)
	}

	d, err := h.registry.New(driver, cfg, spec)
	if err != nil {
		return nil, err
	}
	if err := p.Add(d); err != nil {
		d.Ops.Free(d) //nolint:errcheck
		return nil, err
	}
	h.comps[cfg.ID] = d
	return d, nil
}

// NewBuffer handles new_buffer.
func (h *Handler) NewBuffer(pipelineID, id uint32, capacity int,
	f audio.Format, opts ...buffer.Option) (*buffer.Buffer, error) {

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.buffers[id]; ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrExists, id)
	}
	p, ok := h.pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %d", ErrNotFound, pipelineID)
	}
	b, err := buffer.Alloc(id, capacity, f, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.AddBuffer(b); err != nil {
		return nil, err
	}
	h.buffers[id] = b
	return b, nil
}

// Connect handles connect(src_comp, src_buf): the component produces
// into the buffer.
func (h *Handler) Connect(srcComp, bufID uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, b, err := h.pair(srcComp, bufID)
	if err != nil {
		return err
	}
	return h.pipelines[d.Pipeline].ConnectSource(d, b)
}

// ConnectSink handles connect(buf, sink_comp): the component consumes
// from the buffer.
func (h *Handler) ConnectSink(bufID, sinkComp uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, b, err := h.pair(sinkComp, bufID)
	if err != nil {
		return err
	}
	return h.pipelines[d.Pipeline].ConnectSink(b, d)
}

func (h *Handler) pair(compID, bufID uint32) (*component.Device, *buffer.Buffer, error) {
	d, ok := h.comps[compID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: component %d", ErrNotFound, compID)
	}
	b, ok := h.buffers[bufID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: buffer %d", ErrNotFound, bufID)
	}
	if _, ok := h.pipelines[d.Pipeline]; !ok {
		return nil, nil, fmt.Errorf("%w: pipeline %d", ErrNotFound, d.Pipeline)
	}
	return d, b, nil
}

// PipelineConnect joins two pipelines through a shared buffer owned by
// the producer pipeline.
func (h *Handler) PipelineConnect(srcComp, bufID, sinkComp uint32) error {
	if err := h.Connect(srcComp, bufID); err != nil {
		return err
	}
	if err := h.ConnectSink(bufID, sinkComp); err != nil {
		// rewind the producer attachment
		h.mu.Lock()
		if b, ok := h.buffers[bufID]; ok {
			b.DetachProducer()
		}
		h.mu.Unlock()
		return err
	}
	return nil
}

// CompletePipeline handles complete_pipeline: freeze the graph and
// hand the pipeline to its schedulers. Completion order across
// pipelines defines the producer-before-consumer tick order.
func (h *Handler) CompletePipeline(id, schedComp uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: pipeline %d", ErrNotFound, id)
	}
	if err := p.Complete(schedComp); err != nil {
		return err
	}
	if h.ll != nil && p.TimeDomain == pipeline.DomainTimer {
		h.ll.Register(p)
	}
	if h.dp != nil {
		for _, d := range p.Components() {
			if proc := module.Proc(d); proc != nil && proc.Domain == module.DomainDP {
				h.dp.Register(proc)
			}
		}
	}
	return nil
}

// Trigger handles trigger(pipeline_id, ...). PREPARE and RESET map to
// the prepare and reset walks; everything else cascades as a trigger.
func (h *Handler) Trigger(id uint32, t component.Trigger) error {
	h.mu.Lock()
	p, ok := h.pipelines[id]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: pipeline %d", ErrNotFound, id)
	}

	var err error
	switch t {
	case component.TriggerPrepare:
		err = p.Prepare()
	case component.TriggerReset:
		err = p.Reset()
	default:
		err = p.Trigger(t)
		if errors.Is(err, component.ErrPathStop) {
			err = nil
		}
	}
	if err != nil {
		if h.bus != nil {
			h.bus.PublishError(ErrorNotification{Code: ErrorCode(err), Message: err.Error()})
		}
		return err
	}
	if h.bus != nil {
		h.bus.PublishState(StateNotification{Pipeline: id, State: p.State.String()})
	}
	return nil
}

// Params handles params(comp_id, stream_params): parameters propagate
// through the component's pipeline from its source endpoint.
func (h *Handler) Params(compID uint32, f audio.Format) error {
	h.mu.Lock()
	d, ok := h.comps[compID]
	var p *pipeline.Pipeline
	if ok {
		p = h.pipelines[d.Pipeline]
	}
	h.mu.Unlock()
	if !ok || p == nil {
		return fmt.Errorf("%w: component %d", ErrNotFound, compID)
	}
	return p.Params(f)
}

// SetData handles one fragment of a set_data blob. The total size
// declared on the first fragment must stay consistent across the
// sequence.
func (h *Handler) SetData(compID uint32, c *component.CtrlData) error {
	h.mu.Lock()
	d, ok := h.comps[compID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: component %d", ErrNotFound, compID)
	}
	c.Cmd = component.CmdSetData
	if err := h.checkFragment(compID, c); err != nil {
		return err
	}
	_, err := d.Ops.Command(d, c)
	return err
}

// GetData handles get_data.
func (h *Handler) GetData(compID uint32, size int) ([]byte, error) {
	h.mu.Lock()
	d, ok := h.comps[compID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: component %d", ErrNotFound, compID)
	}
	c := &component.CtrlData{Cmd: component.CmdGetData, Data: make([]byte, size)}
	return d.Ops.Command(d, c)
}

// checkFragment enforces the first/middle/last/single framing.
func (h *Handler) checkFragment(compID uint32, c *component.CtrlData) error {
	switch c.Position() {
	case component.FragmentSingle:
		delete(h.frags, compID)
		return nil
	case component.FragmentFirst:
		h.frags[compID] = &fragState{
			total:    len(c.Data) + c.Remaining,
			received: len(c.Data),
		}
		return nil
	}
	st, ok := h.frags[compID]
	if !ok {
		return fmt.Errorf("%w: fragment without a first fragment", component.ErrInvalidState)
	}
	st.received += len(c.Data)
	if st.received+c.Remaining != st.total {
		delete(h.frags, compID)
		return fmt.Errorf("%w: fragment sequence does not add up to %d",
			component.ErrInvalidState, st.total)
	}
	if c.Position() == component.FragmentLast {
		delete(h.frags, compID)
	}
	return nil
}

// FreePipeline destroys a pipeline and every object it owns, reverse
// creation order.
func (h *Handler) FreePipeline(id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pipelines[id]
	if !ok {
		return fmt.Errorf("%w: pipeline %d", ErrNotFound, id)
	}
	if h.ll != nil {
		h.ll.Unregister(p)
	}
	comps := p.Components()
	bufs := p.Buffers()
	if err := p.Free(); err != nil {
		return err
	}
	for _, d := range comps {
		delete(h.comps, d.ID)
	}
	for _, b := range bufs {
		delete(h.buffers, b.ID())
	}
	delete(h.pipelines, id)
	return nil
}

// Pipeline looks up a pipeline by id.
func (h *Handler) Pipeline(id uint32) (*pipeline.Pipeline, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pipelines[id]
	return p, ok
}

// Component looks up a component by id.
func (h *Handler) Component(id uint32) (*component.Device, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.comps[id]
	return d, ok
}

// HandleXrun republishes scheduler xrun events on the host bus; wire
// it as the LL scheduler's xrun handler.
func (h *Handler) HandleXrun(ev sched.XrunEvent) {
	if h.bus == nil {
		return
	}
	h.bus.PublishXrun(XrunNotification{Pipeline: ev.Pipeline, Count: ev.Count, Fatal: ev.Fatal})
}

// Error codes of the IPC reply, written next to the status register.
const (
	CodeOK uint32 = iota
	CodeInvalidState
	CodeInvalidFormat
	CodeCycle
	CodeDisconnected
	CodeNotFound
	CodeExists
	CodeInternal
)

// ErrorCode maps an error to its IPC reply code.
func ErrorCode(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, pipeline.ErrCycle):
		return CodeCycle
	case errors.Is(err, pipeline.ErrDisconnected):
		return CodeDisconnected
	case errors.Is(err, audio.ErrInvalidFormat):
		return CodeInvalidFormat
	case errors.Is(err, component.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrExists), errors.Is(err, pipeline.ErrDuplicateID):
		return CodeExists
	}
	return CodeInternal
}
