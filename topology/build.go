package topology

import (
	"fmt"

	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/endpoint"
	"github.com/aupipe/adsp/ipc"
	"github.com/aupipe/adsp/module"
	"github.com/aupipe/adsp/modules/eq"
	"github.com/aupipe/adsp/modules/gain"
	"github.com/aupipe/adsp/modules/src"
	"github.com/aupipe/adsp/modules/tone"
	"github.com/aupipe/adsp/pipeline"
)

// Instantiate builds the document's graph through the IPC handler:
// pipelines, then components, then buffers, then connections, then
// completion. On failure every pipeline created so far is freed in
// reverse order.
func (d *Document) Instantiate(reg *component.Registry, h *ipc.Handler) (err error) {
	var created []uint32
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			h.FreePipeline(created[i]) //nolint:errcheck
		}
	}()

	decls := map[uint32]*Pipeline{}
	for i := range d.Pipelines {
		p := &d.Pipelines[i]
		decls[p.ID] = p
		cfg := pipeline.Config{
			ID:         p.ID,
			Core:       p.Core,
			Priority:   p.Priority,
			PeriodUS:   p.PeriodUS,
			DeadlineUS: p.DeadlineUS,
		}
		if p.TimeDomain == "dma" {
			cfg.TimeDomain = pipeline.DomainDMA
		}
		if p.Direction == "capture" {
			cfg.Direction = component.Capture
		}
		if _, err = h.NewPipeline(cfg); err != nil {
			return err
		}
		created = append(created, p.ID)
	}

	for i := range d.Widgets {
		w := &d.Widgets[i]
		decl := decls[w.Pipeline]
		drv, derr := reg.LookupName(w.Class)
		if derr != nil {
			err = fmt.Errorf("%w: %q", ErrUnknownClass, w.Class)
			return err
		}
		spec, serr := w.spec(decl)
		if serr != nil {
			err = serr
			return err
		}
		cfg := component.Config{
			ID:       w.ID,
			Pipeline: w.Pipeline,
			Core:     decl.Core,
			PeriodUS: decl.PeriodUS,
		}
		if decl.Direction == "capture" {
			cfg.Direction = component.Capture
		}
		if decl.Rate[1] > 0 && decl.PeriodUS > 0 {
			cfg.Frames = decl.Rate[1] / int(1e6/decl.PeriodUS)
		}
		if _, err = h.NewComponent(drv.UUID, cfg, spec); err != nil {
			return err
		}
	}

	for i := range d.Buffers {
		b := &d.Buffers[i]
		decl := decls[b.Pipeline]
		f, ferr := parseFormat(b.Format, decl.Rate[1], decl.Channels[1])
		if ferr != nil {
			err = ferr
			return err
		}
		periods := b.Periods
		if periods <= 0 {
			periods = 2
		}
		frames := decl.Rate[1] / int(1e6/decl.PeriodUS)
		if frames <= 0 {
			frames = 48
		}
		if _, err = h.NewBuffer(b.Pipeline, b.ID, periods*frames*f.FrameBytes(), f); err != nil {
			return err
		}
	}

	buffers := map[uint32]bool{}
	for _, b := range d.Buffers {
		buffers[b.ID] = true
	}
	for _, r := range d.Routes {
		srcID, _, rerr := parseRef(r.Source)
		if rerr != nil {
			err = rerr
			return err
		}
		snkID, _, rerr := parseRef(r.Sink)
		if rerr != nil {
			err = rerr
			return err
		}
		if buffers[snkID] {
			err = h.Connect(srcID, snkID)
		} else {
			err = h.ConnectSink(srcID, snkID)
		}
		if err != nil {
			return err
		}
	}

	for _, p := range d.Pipelines {
		sched := p.Scheduler
		if sched == 0 {
			for _, w := range d.Widgets {
				if w.Pipeline == p.ID {
					sched = w.ID
					break
				}
			}
		}
		if err = h.CompletePipeline(p.ID, sched); err != nil {
			return err
		}
	}
	return nil
}

// spec builds the driver construction blob of a widget.
func (w *Widget) spec(decl *Pipeline) (interface{}, error) {
	switch w.Class {
	case "host-copier":
		s := &endpoint.HostSpec{}
		if w.Host != nil {
			s.RingPeriods = w.Host.RingPeriods
			for _, name := range w.Host.Formats {
				f, err := parseFormat(name, decl.Rate[1], decl.Channels[1])
				if err != nil {
					return nil, err
				}
				s.Formats = append(s.Formats, f)
			}
		}
		return s, nil
	case "dai-copier":
		s := &endpoint.DAISpec{}
		if w.DAI != nil {
			s.WirePeriods = w.DAI.WirePeriods
			if w.DAI.Format != "" {
				f, err := parseFormat(w.DAI.Format, decl.Rate[1], decl.Channels[1])
				if err != nil {
					return nil, err
				}
				s.Format = f
			}
		}
		return s, nil
	case "gain":
		s := &gain.Spec{}
		if w.Gain != nil {
			s.Initial = w.Gain.InitialQ16
			s.RampFrames = w.Gain.RampFrames
		}
		return s, nil
	case "src":
		s := &src.Spec{}
		if w.SRC != nil {
			s.InRate = w.SRC.InRate
			s.OutRate = w.SRC.OutRate
			s.WindowPeriods = w.SRC.WindowPeriods
		}
		return s, nil
	case "eq":
		s := &eq.Spec{}
		if w.EQ != nil && w.EQ.Domain == "dp" {
			s.Domain = module.DomainDP
		}
		return s, nil
	case "tone":
		s := &tone.Spec{}
		if w.Tone != nil {
			s.FrequencyHz = w.Tone.FrequencyHz
			s.Amplitude = w.Tone.Amplitude
		}
		return s, nil
	case "mixin", "mixout":
		return nil, nil
	}
	// other classes take no blob; the driver decides what it needs
	return nil, nil
}
