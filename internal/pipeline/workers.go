package pipeline

import (
	"context"
	"sync"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
)

type job struct {
	ctx  context.Context
	req  model.OrderRequest
	done chan result
}

type result struct {
	order *model.InternalOrder
	err   error
}

// Dispatcher fans order submissions out to a fixed worker pool so a burst of
// client requests cannot spawn unbounded goroutines against the venues.
type Dispatcher struct {
	pipeline *Pipeline
	queue    chan job
	workers  int

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewDispatcher(p *Pipeline, cfg config.PipelineConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		pipeline: p,
		queue:    make(chan job, queueSize),
		workers:  workers,
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
	logger.Info("order dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopped:
			return
		case j := <-d.queue:
			order, err := d.pipeline.SubmitOrder(j.ctx, j.req)
			j.done <- result{order: order, err: err}
		}
	}
}

// Submit enqueues the request and waits for a worker to finish it. A full
// queue sheds load immediately instead of queueing the caller.
func (d *Dispatcher) Submit(ctx context.Context, req model.OrderRequest) (*model.InternalOrder, error) {
	j := job{ctx: ctx, req: req, done: make(chan result, 1)}
	select {
	case d.queue <- j:
	case <-d.stopped:
		return nil, apperrors.Newf(apperrors.ErrInternal, "order dispatcher stopped")
	case <-ctx.Done():
		return nil, apperrors.New(apperrors.ErrNetwork, "submission aborted before dispatch", ctx.Err())
	default:
		return nil, apperrors.Newf(apperrors.ErrInternal, "order queue full")
	}

	select {
	case res := <-j.done:
		return res.order, res.err
	case <-d.stopped:
		return nil, apperrors.Newf(apperrors.ErrInternal, "order dispatcher stopped")
	case <-ctx.Done():
		return nil, apperrors.New(apperrors.ErrNetwork, "submission abandoned by caller", ctx.Err())
	}
}

// Stop drains nothing: queued jobs not yet picked up are dropped and their
// callers unblocked by the stopped channel.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
	d.wg.Wait()
}
