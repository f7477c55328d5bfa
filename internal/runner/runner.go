// Package runner orchestrates one synchronous dispatch run: dispatch the
// job, wait for its allocation, stream task output while polling for
// completion, and always deregister the dispatched instance at the end.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/nomad"
)

// deregisterTimeout bounds the final deregistration call, which runs on a
// fresh context so it survives cancellation of the run context.
const deregisterTimeout = 10 * time.Second

// Scheduler is the slice of the Nomad API the run consumes.
// *nomad.Client implements it.
type Scheduler interface {
	Dispatch(ctx context.Context, req nomad.DispatchRequest) (nomad.DispatchResponse, error)
	EvalAllocations(ctx context.Context, evalID string) ([]nomad.Allocation, error)
	LogChunk(ctx context.Context, allocID, task, logType string, offset int64) (nomad.LogChunk, error)
	Allocation(ctx context.Context, allocID string) (nomad.AllocStatus, error)
	Deregister(ctx context.Context, jobID string) error
}

// Options holds orchestration timing and behavior parameters, separate
// from the Nomad connection config.
type Options struct {
	AllocTimeout      time.Duration // how long to wait for the allocation to appear
	AllocTimeoutStep  time.Duration // allocation wait polling interval
	LogPollInterval   time.Duration // log frame polling interval
	AllocPollInterval time.Duration // completion polling interval
	Tasks             []string      // tasks to monitor; empty means all, sorted by name
	PrefixTask        bool          // prepend the task name to every output line
	ColorTask         bool          // colorize the task name prefix (TTY only)
}

// DefaultOptions mirrors the CLI flag defaults.
func DefaultOptions() Options {
	return Options{
		AllocTimeout:      15 * time.Second,
		AllocTimeoutStep:  2 * time.Second,
		LogPollInterval:   2 * time.Second,
		AllocPollInterval: 2 * time.Second,
	}
}

// Runner executes one dispatch run against a Scheduler.
type Runner struct {
	sched  Scheduler
	opts   Options
	stdout *syncWriter
	stderr *syncWriter
	logger *slog.Logger
}

// New creates a Runner. Task stdout/stderr land on the given writers;
// diagnostics go to the logger.
func New(sched Scheduler, opts Options, stdout, stderr io.Writer, logger *slog.Logger) *Runner {
	return &Runner{
		sched:  sched,
		opts:   opts,
		stdout: &syncWriter{w: stdout},
		stderr: &syncWriter{w: stderr},
		logger: logger.With("component", "runner"),
	}
}

// Run dispatches the job and sees the instance through to a terminal
// client status, streaming task output along the way. Once the dispatch
// has succeeded the instance is deregistered on every exit path,
// including cancellation of ctx.
func (r *Runner) Run(ctx context.Context, req nomad.DispatchRequest) (nomad.ClientStatus, error) {
	resp, err := r.sched.Dispatch(ctx, req)
	if err != nil {
		return "", &DispatchError{Err: err}
	}
	r.logger.Debug("dispatched job",
		"dispatched_job_id", resp.DispatchedJobID,
		"eval_id", resp.EvalID,
	)

	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
		defer cancel()
		if err := r.sched.Deregister(dctx, resp.DispatchedJobID); err != nil {
			r.logger.Error("failed to deregister dispatched job", "error", err)
		}
	}()

	return r.monitor(ctx, resp.EvalID)
}

// monitor is the post-dispatch portion of the run: allocation wait,
// streamer fan-out, completion wait, streamer join.
func (r *Runner) monitor(ctx context.Context, evalID string) (nomad.ClientStatus, error) {
	alloc, err := r.waitForAllocation(ctx, evalID)
	if err != nil {
		return "", err
	}
	r.logger.Debug("got allocation", "alloc_id", alloc.ID)

	tasks, err := resolveTasks(alloc, r.opts.Tasks)
	if err != nil {
		return "", err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, s := range r.streamers(alloc.ID, tasks) {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Streamers poll on their own context: the final draining
			// poll must still reach the server after ctx is cancelled.
			s.run(context.Background(), stop)
		}()
	}

	status, werr := r.awaitTerminal(ctx, alloc.ID)
	close(stop)
	wg.Wait()
	if werr != nil {
		return "", werr
	}

	r.logger.Debug("allocation reached terminal status", "status", status)
	return status, nil
}

// resolveTasks validates the requested tasks against the allocation, or
// selects all of its tasks sorted by name when none were requested.
func resolveTasks(alloc nomad.Allocation, requested []string) ([]string, error) {
	if len(requested) > 0 {
		tasks := make([]string, 0, len(requested))
		for _, task := range requested {
			if _, ok := alloc.TaskStates[task]; !ok {
				return nil, &TaskNotFoundError{Task: task}
			}
			tasks = append(tasks, task)
		}
		return tasks, nil
	}

	tasks := make([]string, 0, len(alloc.TaskStates))
	for task := range alloc.TaskStates {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks, nil
}

var prefixPalette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgYellow),
	color.New(color.FgGreen),
	color.New(color.FgBlue),
}

// streamers builds one streamer per (task, stream type) pair. Line
// buffering is only needed when more than one task shares the output;
// a single unprefixed stream can forward raw chunks.
func (r *Runner) streamers(allocID string, tasks []string) []*streamer {
	width := 0
	if r.opts.PrefixTask {
		for _, task := range tasks {
			width = max(width, len(task))
		}
	}
	lineBuffered := len(tasks) > 1

	streams := []struct {
		logType string
		out     *syncWriter
	}{
		{nomad.LogTypeStdout, r.stdout},
		{nomad.LogTypeStderr, r.stderr},
	}

	var out []*streamer
	for i, task := range tasks {
		var prefix []byte
		if r.opts.PrefixTask {
			padded := fmt.Sprintf("%-*s", width, task)
			if r.opts.ColorTask {
				padded = prefixPalette[i%len(prefixPalette)].Sprint(padded)
			}
			prefix = []byte(padded + ":")
		}

		for _, st := range streams {
			out = append(out, &streamer{
				sched:        r.sched,
				allocID:      allocID,
				task:         task,
				logType:      st.logType,
				out:          st.out,
				prefix:       prefix,
				lineBuffered: lineBuffered,
				pollInterval: r.opts.LogPollInterval,
				logger:       r.logger,
			})
		}
	}
	return out
}
