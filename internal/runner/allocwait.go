package runner

import (
	"context"
	"time"

	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/nomad"
)

// waitForAllocation polls the evaluation until it has produced exactly
// one allocation with populated task states, or the deadline passes.
//
// A fresh dispatch may transiently show no allocation at all, or an
// allocation whose task states the scheduler has not filled in yet; both
// count as "not ready", not as failure.
func (r *Runner) waitForAllocation(ctx context.Context, evalID string) (nomad.Allocation, error) {
	deadline := time.Now().Add(r.opts.AllocTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			return nomad.Allocation{}, &AllocTimeoutError{Timeout: r.opts.AllocTimeout}
		}

		allocs, err := r.sched.EvalAllocations(ctx, evalID)
		if err != nil {
			return nomad.Allocation{}, &SchedulerError{Op: "getting evaluation allocations", Err: err}
		}

		if len(allocs) > 0 && allTasksPopulated(allocs) {
			if len(allocs) != 1 {
				return nomad.Allocation{}, &AllocCountError{Count: len(allocs)}
			}
			return allocs[0], nil
		}

		r.logger.Debug("waiting for allocation to appear",
			"remaining", remaining.Round(time.Second),
		)
		if err := sleepCtx(ctx, min(remaining, r.opts.AllocTimeoutStep)); err != nil {
			return nomad.Allocation{}, err
		}
	}
}

func allTasksPopulated(allocs []nomad.Allocation) bool {
	for _, alloc := range allocs {
		if len(alloc.TaskStates) == 0 {
			return false
		}
	}
	return true
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
