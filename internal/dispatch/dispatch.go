package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ligustah/gribslurp/internal/fetch"
	"github.com/ligustah/gribslurp/internal/progress"
)

// DefaultWorkers is the pool size used when Options.Workers is not set.
const DefaultWorkers = 5

// Task is one fetch. A nil Range fetches the whole object.
type Task struct {
	Source string
	Range  *fetch.Range
	Dest   string
}

func (t Task) String() string {
	if t.Range == nil {
		return fmt.Sprintf("%s -> %s", t.Source, t.Dest)
	}
	return fmt.Sprintf("%s [%s] -> %s", t.Source, t.Range, t.Dest)
}

// Failure records a task that did not complete.
type Failure struct {
	// Index is the task's position in the submitted slice.
	Index int
	Task  Task
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("task %d (%s): %v", f.Index, f.Task, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Options configures Run.
type Options struct {
	// Workers is the number of tasks fetched concurrently.
	// Default: DefaultWorkers
	Workers int

	// Logger receives per-task events.
	// Default: no-op
	Logger log.Logger

	// Progress is an optional progress reporter.
	Progress *progress.Reporter
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return o
}

// Run fetches every task with a fixed pool of workers and returns the
// failures ordered by submission index. A nil result means every task
// succeeded. Failed tasks are not retried and never stop their siblings.
//
// When ctx is cancelled no further tasks are started; tasks that never ran
// are reported with ctx's error.
func Run(ctx context.Context, f fetch.Fetcher, tasks []Task, opts Options) []Failure {
	opts = opts.withDefaults()
	if len(tasks) == 0 {
		return nil
	}

	workers := min(opts.Workers, len(tasks))
	level.Debug(opts.Logger).Log("msg", "dispatching tasks", "tasks", len(tasks), "workers", workers)

	type job struct {
		index int
		task  Task
	}

	var (
		mu       sync.Mutex
		failures []Failure
		wg       sync.WaitGroup
	)
	fail := func(i int, t Task, err error) {
		mu.Lock()
		failures = append(failures, Failure{Index: i, Task: t, Err: err})
		mu.Unlock()
	}

	jobs := make(chan job, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := runTask(ctx, f, j.index, j.task, opts); err != nil {
					fail(j.index, j.task, err)
				}
			}
		}()
	}

	next := 0
feed:
	for ; next < len(tasks); next++ {
		select {
		case jobs <- job{index: next, task: tasks[next]}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(tasks); i++ {
		fail(i, tasks[i], ctx.Err())
	}
	if next < len(tasks) {
		level.Warn(opts.Logger).Log("msg", "dispatch cancelled", "unstarted", len(tasks)-next, "err", ctx.Err())
	}

	slices.SortFunc(failures, func(a, b Failure) int { return a.Index - b.Index })
	return failures
}

func runTask(ctx context.Context, f fetch.Fetcher, i int, t Task, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.Progress != nil {
		opts.Progress.SegmentStarted()
	}

	n, err := f.Fetch(ctx, t.Source, t.Range, t.Dest)
	if err != nil {
		if opts.Progress != nil {
			opts.Progress.SegmentFailed()
		}
		level.Warn(opts.Logger).Log("msg", "task failed", "index", i, "dest", t.Dest, "err", err)
		return err
	}

	if opts.Progress != nil {
		opts.Progress.SegmentCompleted(n)
	}
	level.Debug(opts.Logger).Log("msg", "task done", "index", i, "dest", t.Dest, "bytes", n)
	return nil
}

// Tasks returns the tasks of failures in the same order, ready to be passed
// to Run again.
func Tasks(failures []Failure) []Task {
	if len(failures) == 0 {
		return nil
	}
	tasks := make([]Task, len(failures))
	for i, f := range failures {
		tasks[i] = f.Task
	}
	return tasks
}
