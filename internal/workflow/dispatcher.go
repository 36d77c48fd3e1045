package workflow

import (
	"context"
	"sync"

	"agentforge/internal/logging"
	"agentforge/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Dispatcher triggers runs asynchronously. At most limit runs execute at
// once; further triggers wait for a slot without blocking the caller.
type Dispatcher struct {
	ctx    context.Context
	runner *Runner
	group  *errgroup.Group

	// OnComplete, when set, is called with each finished run's outcome.
	OnComplete func(runID string, outcome types.Outcome)

	pending sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose runs inherit ctx.
func NewDispatcher(ctx context.Context, runner *Runner, limit int) *Dispatcher {
	g := &errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &Dispatcher{ctx: ctx, runner: runner, group: g}
}

// Dispatch schedules req and returns its run id immediately. There is no
// result channel: callers observe completion through the persisted messages.
func (d *Dispatcher) Dispatch(req types.WorkflowRequest) string {
	runID := uuid.NewString()
	logging.Workflow("[%s] dispatched run for project %s", runID, req.ProjectID)

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		d.group.Go(func() error {
			outcome := d.runner.execute(d.ctx, runID, req)
			if d.OnComplete != nil {
				d.OnComplete(runID, outcome)
			}
			return nil
		})
	}()
	return runID
}

// Wait blocks until every dispatched run has finished.
func (d *Dispatcher) Wait() error {
	d.pending.Wait()
	return d.group.Wait()
}
