// Package worker implements the bounded worker pool that executes
// ActionTasks handed down by the composer: N goroutines pinned to cgroup
// threads (see internal/cgroup) share one bounded queue.
package worker

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Candlest/seele/internal/cgroup"
	"github.com/Candlest/seele/internal/eviction"
	"github.com/Candlest/seele/internal/observability"
	"github.com/Candlest/seele/internal/submission"
	"github.com/Candlest/seele/internal/worker/action"
)

// Queue is the bounded channel of ActionTasks shared by every worker.
type Queue = chan submission.ActionTask

// NewQueue allocates a Queue with the given depth.
func NewQueue(depth int) Queue {
	return make(Queue, depth)
}

// Pool is N goroutines draining a shared Queue. Each goroutine locks itself
// to its own OS thread for its entire lifetime, so the thread that
// rendezvous-es on the pin barrier is the same thread that goes on to
// dispatch every ActionTask it pulls off the queue.
type Pool struct {
	queue             Queue
	count             int
	submissionEvictor *eviction.Manager
	imageEvictor      *eviction.Manager
	dispatcher        *action.Dispatcher
	metrics           *observability.JudgeMetrics
	barrier           *cgroup.PinBarrier
}

// NewPool builds a pool of count workers reading from queue. submissionEvictor
// and imageEvictor may be nil if eviction tracking is not wired for a given
// deployment (e.g. tests).
func NewPool(queue Queue, count int, dispatcher *action.Dispatcher, submissionEvictor, imageEvictor *eviction.Manager, metrics *observability.JudgeMetrics) *Pool {
	return &Pool{
		queue:             queue,
		count:             count,
		submissionEvictor: submissionEvictor,
		imageEvictor:      imageEvictor,
		dispatcher:        dispatcher,
		metrics:           metrics,
	}
}

// SetBarrier wires the cgroup pin barrier that Run's worker goroutines
// rendezvous on before they start dispatching tasks. It must be called
// before Run, once cgroup topology is available. A nil barrier (the zero
// value) makes Run skip pinning entirely, which is how tests run the pool;
// Supervisor.InitCgroups sets a barrier in every work mode.
func (p *Pool) SetBarrier(barrier *cgroup.PinBarrier) {
	p.barrier = barrier
}

// Run starts count worker goroutines, each locked to its own OS thread for
// its lifetime and, if a barrier is set, rendezvous-ed through it before
// dispatching any task. It blocks until ctx is canceled and every worker
// has drained its current task, and returns the first pinning error
// encountered, if any.
func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for range p.count {
		group.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			if p.barrier != nil {
				if err := p.barrier.Wait(); err != nil {
					return err
				}
			}

			p.loop(groupCtx)

			return nil
		})
	}

	return group.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.execute(ctx, task)
		}
	}
}

func (p *Pool) execute(ctx context.Context, task submission.ActionTask) {
	if p.submissionEvictor != nil {
		p.submissionEvictor.VisitEnter(task.SubmissionRoot)
		defer p.submissionEvictor.VisitLeave(task.SubmissionRoot)
	}

	start := time.Now()

	report := p.dispatcher.Dispatch(ctx, task)

	if p.imageEvictor != nil && report.Outcome == submission.OutcomeSuccess {
		if imagePath, ok := report.Extension["_image_unpacked_path"].(string); ok {
			p.imageEvictor.VisitOnce(imagePath)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordStep(ctx, string(report.Outcome))
	}

	report.ElapsedMS = time.Since(start).Milliseconds()
	report.RunAt = start

	task.ReportSink <- report
}
