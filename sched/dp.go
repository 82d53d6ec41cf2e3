package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aupipe/adsp/buffer"
	"github.com/aupipe/adsp/component"
	"github.com/aupipe/adsp/module"
)

// DPOption configures the DP pool.
type DPOption func(*DP)

// WithDPClock replaces the platform timer.
func WithDPClock(c Clock) DPOption {
	return func(d *DP) { d.clock = c }
}

// WithDPLogger attaches a logger.
func WithDPLogger(l *logrus.Entry) DPOption {
	return func(d *DP) { d.log = l }
}

// DPTask is one deferred module in the pool.
type DPTask struct {
	Proc *module.Processing
	wake chan struct{}
}

// DP is the deferred-processing pool: one task per DP module, each
// pacing on its own period and suspending on queue progress.
type DP struct {
	mu      sync.Mutex
	tasks   []*DPTask
	started bool
	eg      *errgroup.Group
	ctx     context.Context

	clock Clock
	log   *logrus.Entry
}

// NewDP creates an empty pool.
func NewDP(opts ...DPOption) *DP {
	d := &DP{clock: RealClock}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a DP module to the pool. When the pool is already
// running the task starts immediately.
func (d *DP) Register(p *module.Processing) *DPTask {
	t := &DPTask{Proc: p, wake: make(chan struct{}, 1)}
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	started := d.started
	d.mu.Unlock()
	if started {
		d.spawn(t)
	}
	return t
}

// Run executes the pool until the context is cancelled.
func (d *DP) Run(ctx context.Context) error {
	d.mu.Lock()
	d.eg, d.ctx = errgroup.WithContext(ctx)
	d.started = true
	tasks := append([]*DPTask(nil), d.tasks...)
	d.mu.Unlock()

	for _, t := range tasks {
		d.spawn(t)
	}
	err := d.eg.Wait()
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return err
}

func (d *DP) spawn(t *DPTask) {
	d.eg.Go(func() error {
		return d.runTask(d.ctx, t)
	})
	// queue progress wakes the task ahead of its period
	llToDP, dpToLL := t.Proc.Queues()
	for _, q := range append(llToDP[:len(llToDP):len(llToDP)], dpToLL...) {
		notify := q.Notify()
		d.eg.Go(func() error {
			for {
				select {
				case <-d.ctx.Done():
					return nil
				case <-notify:
					select {
					case t.wake <- struct{}{}:
					default:
					}
				}
			}
		})
	}
}

func (d *DP) runTask(ctx context.Context, t *DPTask) error {
	period := time.Duration(t.Proc.Period) * time.Microsecond
	if period <= 0 {
		period = DefaultPeriod
	}
	ticker := d.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		case <-t.wake:
		}
		if t.Proc.Dev.State != component.StateActive {
			continue
		}
		if err := module.DPProcess(t.Proc); err != nil {
			// empty source or full sink suspends until the queues
			// move again
			if errors.Is(err, buffer.ErrNoData) || errors.Is(err, buffer.ErrNoSpace) {
				continue
			}
			if d.log != nil {
				d.log.WithFields(logrus.Fields{
					"comp":  t.Proc.Dev.ID,
					"error": err,
				}).Error("dp task failed")
			}
		}
	}
}
