package runner

import (
	"context"

	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/nomad"
)

// awaitTerminal polls the allocation until its client status is terminal.
// There is deliberately no deadline: the job runs as long as it runs.
// Cancelling ctx is the only way out of a healthy poll loop.
func (r *Runner) awaitTerminal(ctx context.Context, allocID string) (nomad.ClientStatus, error) {
	for {
		status, err := r.sched.Allocation(ctx, allocID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &SchedulerError{Op: "getting allocation status", Err: err}
		}

		if status.ClientStatus.IsTerminal() {
			return status.ClientStatus, nil
		}

		if err := sleepCtx(ctx, r.opts.AllocPollInterval); err != nil {
			return "", err
		}
	}
}
