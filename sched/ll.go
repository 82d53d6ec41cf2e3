/*
Package sched dispatches pipeline copy passes. The low-latency domain
is a periodic tick walking registered pipelines in priority order with
a hard per-pipeline deadline; the deferred-processing domain is a task
pool paced by module periods and DP queue progress.
*/
package sched

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/pipeline"
	"github.com/aupipe/adsp/trace"
)

// DefaultPeriod is the base LL tick.
const DefaultPeriod = time.Millisecond

// XrunEvent reports a missed deadline to the host layer.
type XrunEvent struct {
	Pipeline uint32
	Count    int
	// Fatal is set when recovery gave up inside the threshold window
	// and the pipeline was stopped.
	Fatal bool
}

// LLOption configures the LL scheduler.
type LLOption func(*LL)

// WithClock replaces the platform timer.
func WithClock(c Clock) LLOption {
	return func(s *LL) { s.clock = c }
}

// WithMetrics attaches runtime telemetry.
func WithMetrics(m *trace.Metrics) LLOption {
	return func(s *LL) { s.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *logrus.Entry) LLOption {
	return func(s *LL) { s.log = l }
}

// WithXrunThreshold overrides how many xruns inside the window turn
// fatal.
func WithXrunThreshold(count int, window time.Duration) LLOption {
	return func(s *LL) {
		s.xrunLimit = count
		s.xrunWindow = window
	}
}

// WithXrunHandler installs the host notification callback.
func WithXrunHandler(fn func(XrunEvent)) LLOption {
	return func(s *LL) { s.onXrun = fn }
}

// Task is one registered pipeline in the LL domain.
type Task struct {
	Pipeline *pipeline.Pipeline

	// every counts base ticks between runs.
	every     int
	countdown int
	seq       int

	// xruns inside the current threshold window
	windowXruns int
	windowStart time.Time
}

// LL is the timer-driven scheduler of one core.
type LL struct {
	mu    sync.Mutex
	tasks []*Task
	seq   int

	period     time.Duration
	clock      Clock
	log        *logrus.Entry
	metrics    *trace.Metrics
	onXrun     func(XrunEvent)
	xrunLimit  int
	xrunWindow time.Duration
}

// NewLL creates an LL scheduler with the default 1 ms base tick.
func NewLL(opts ...LLOption) *LL {
	s := &LL{
		period:     DefaultPeriod,
		clock:      RealClock,
		xrunLimit:  3,
		xrunWindow: 10 * DefaultPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a pipeline to the tick. Tasks run in priority order,
// ties resolved by registration order, which the IPC layer uses to
// keep producers ahead of consumers across connected pipelines.
func (s *LL) Register(p *pipeline.Pipeline) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	every := int(time.Duration(p.PeriodUS) * time.Microsecond / s.period)
	if every < 1 {
		every = 1
	}
	t := &Task{Pipeline: p, every: every, countdown: 1, seq: s.seq}
	s.seq++
	s.tasks = append(s.tasks, t)
	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].Pipeline.Priority != s.tasks[j].Pipeline.Priority {
			return s.tasks[i].Pipeline.Priority < s.tasks[j].Pipeline.Priority
		}
		return s.tasks[i].seq < s.tasks[j].seq
	})
	return t
}

// Unregister removes a pipeline from the tick.
func (s *LL) Unregister(p *pipeline.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t.Pipeline == p {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Run ticks until the context is cancelled.
func (s *LL) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.Tick()
		}
	}
}

// Tick runs one scheduling point: every due active pipeline gets
// exactly one copy pass, in priority order, measured against its
// deadline.
func (s *LL) Tick() {
	s.mu.Lock()
	tasks := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		p := t.Pipeline
		if p.State != component.StateActive {
			continue
		}
		if t.countdown--; t.countdown > 0 {
			continue
		}
		t.countdown = t.every

		start := s.clock.Now()
		err := p.Copy()
		elapsed := s.clock.Now().Sub(start)

		if s.metrics != nil {
			s.metrics.CopyDuration.WithLabelValues(p.UID).Observe(elapsed.Seconds())
		}

		deadline := time.Duration(p.DeadlineUS) * time.Microsecond
		if err == nil && elapsed <= deadline {
			continue
		}
		s.xrun(t, err)
	}
}

// xrun records the miss and runs recovery; repeated misses inside the
// threshold window stop the pipeline and report a fatal event.
func (s *LL) xrun(t *Task, err error) {
	p := t.Pipeline
	p.RecordXrun()
	if s.metrics != nil {
		s.metrics.Xruns.WithLabelValues(p.UID).Inc()
	}
	if s.log != nil {
		s.log.WithFields(logrus.Fields{"pipe": p.ID, "error": err}).Warn("xrun")
	}

	now := s.clock.Now()
	if t.windowXruns == 0 || now.Sub(t.windowStart) > s.xrunWindow {
		t.windowStart = now
		t.windowXruns = 0
	}
	t.windowXruns++

	if t.windowXruns > s.xrunLimit {
		// recovery is not converging; stop and let the host decide
		p.Trigger(component.TriggerStop) //nolint:errcheck
		if s.onXrun != nil {
			s.onXrun(XrunEvent{Pipeline: p.ID, Count: p.Xruns(), Fatal: true})
		}
		return
	}

	if rerr := p.Recover(); rerr != nil {
		if s.log != nil {
			s.log.WithFields(logrus.Fields{"pipe": p.ID, "error": rerr}).Error("xrun recovery failed")
		}
		p.Trigger(component.TriggerStop) //nolint:errcheck
		if s.onXrun != nil {
			s.onXrun(XrunEvent{Pipeline: p.ID, Count: p.Xruns(), Fatal: true})
		}
		return
	}
	if s.metrics != nil {
		s.metrics.Recoveries.WithLabelValues(p.UID).Inc()
	}
	if s.onXrun != nil {
		s.onXrun(XrunEvent{Pipeline: p.ID, Count: p.Xruns()})
	}
}
