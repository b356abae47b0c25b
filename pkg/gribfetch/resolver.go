package gribfetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ligustah/gribslurp/internal/dispatch"
	"github.com/ligustah/gribslurp/internal/fetch"
	"github.com/ligustah/gribslurp/internal/merge"
	"github.com/ligustah/gribslurp/internal/progress"
	"github.com/ligustah/gribslurp/pkg/catalog"
)

// ErrEmptyCatalog is returned when a non-nil catalog selects no records.
var ErrEmptyCatalog = errors.New("gribfetch: catalog has no records")

// IncompleteError is returned when some segments of a grouped fetch failed.
// The fetched segments are kept on disk and nothing was merged.
type IncompleteError struct {
	Failed []dispatch.Failure
	Total  int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("gribfetch: %d of %d segments failed", len(e.Failed), e.Total)
}

// Unwrap returns the per-segment errors.
func (e *IncompleteError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// Result describes a resolved file.
type Result struct {
	// Source is the remote file.
	Source string

	// Path is the local output file.
	Path string

	// Windows are the byte windows fetched, in ID order. Empty for a
	// whole-object fetch.
	Windows []catalog.Window

	// Failed lists the windows that could not be fetched, indexed by
	// window ID.
	Failed []dispatch.Failure

	// Complete is true once Path holds the whole output.
	Complete bool

	// Cached is true if the output already existed and nothing was done.
	Cached bool

	// grouped is set when Path is produced by merging segments.
	grouped bool
}

// Options configures a Resolver.
type Options struct {
	// Fetcher retrieves segments. Required.
	Fetcher fetch.Fetcher

	// Merger joins segments.
	// Default: merge.NewConcat
	Merger merge.Merger

	// Workers is the number of segments fetched concurrently.
	// Default: dispatch.DefaultWorkers
	Workers int

	// Fs is the local filesystem the output is written to.
	// Default: the OS filesystem
	Fs afero.Fs

	// Logger receives progress events.
	// Default: no-op
	Logger log.Logger

	// ProgressOutput enables the progress display of grouped fetches.
	ProgressOutput io.Writer
}

// Resolver turns a remote file and an optional catalog into a local file.
type Resolver struct {
	opts Options
}

// NewResolver returns a Resolver. It panics if opts.Fetcher is nil.
func NewResolver(opts Options) *Resolver {
	if opts.Fetcher == nil {
		panic("gribfetch: nil Fetcher")
	}
	if opts.Workers <= 0 {
		opts.Workers = dispatch.DefaultWorkers
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Merger == nil {
		opts.Merger = merge.NewConcat(merge.Options{Fs: opts.Fs, Logger: opts.Logger})
	}
	return &Resolver{opts: opts}
}

// Resolve fetches source into dest.
//
// A nil cat fetches the whole object. A catalog with one record fetches that
// record's bytes straight into dest. Larger catalogs are grouped into
// windows, fetched concurrently into dest.tmp<ID> files and merged into dest
// in window order. Windows holding no bytes are skipped; a catalog with only
// such records yields ErrEmptyCatalog.
//
// Only a whole-object or single-record fetch failure, or a merge failure, is
// fatal. If some windows of a grouped fetch fail, the returned Result lists
// them in Failed and the error is an *IncompleteError: nothing is merged and
// the fetched segments stay on disk. Callers may treat that error as a
// partial outcome, inspect Result.Failed and pass the Result to Retry.
func (r *Resolver) Resolve(ctx context.Context, source, dest string, cat catalog.Catalog) (*Result, error) {
	res := &Result{Source: source, Path: dest}
	logger := log.With(r.opts.Logger, "source", source, "dest", dest)

	switch {
	case cat == nil:
		level.Info(logger).Log("msg", "fetching whole object")
		_, err := r.opts.Fetcher.Fetch(ctx, source, nil, dest)
		res.Complete = err == nil
		return res, err

	case len(cat) == 0:
		return nil, ErrEmptyCatalog
	}

	res.Windows = nonEmpty(catalog.Group(cat))
	switch {
	case len(res.Windows) == 0:
		return nil, ErrEmptyCatalog

	case len(cat) == 1:
		w := res.Windows[0]
		level.Info(logger).Log("msg", "fetching single record", "window", w)
		_, err := r.opts.Fetcher.Fetch(ctx, source, windowRange(w), dest)
		res.Complete = err == nil
		return res, err
	}

	res.grouped = true
	if done, err := r.exists(dest); err != nil || done {
		res.Cached, res.Complete = done, done
		return res, err
	}

	tasks := make([]dispatch.Task, len(res.Windows))
	for i, w := range res.Windows {
		tasks[i] = dispatch.Task{Source: source, Range: windowRange(w), Dest: SegmentPath(dest, w.ID)}
	}
	level.Info(logger).Log("msg", "fetching windows", "records", len(cat), "windows", len(tasks))

	res.Failed = r.dispatch(ctx, source, tasks)
	// Indexes refer to tasks; report window IDs.
	for i := range res.Failed {
		res.Failed[i].Index = res.Windows[res.Failed[i].Index].ID
	}
	return r.finish(ctx, res)
}

// Retry fetches the failed windows of an incomplete result again and merges
// once every window is present. Segments fetched earlier are not refetched.
// A result whose merge failed is merged again.
func (r *Resolver) Retry(ctx context.Context, res *Result) (*Result, error) {
	if res.Complete {
		return res, nil
	}
	if !res.grouped {
		var rng *fetch.Range
		if len(res.Windows) == 1 {
			rng = windowRange(res.Windows[0])
		}
		next := *res
		_, err := r.opts.Fetcher.Fetch(ctx, res.Source, rng, res.Path)
		next.Complete = err == nil
		return &next, err
	}
	if len(res.Failed) == 0 {
		next := *res
		return r.finish(ctx, &next)
	}

	failures := r.dispatch(ctx, res.Source, dispatch.Tasks(res.Failed))

	// Indexes from the retry batch refer to res.Failed, whose indexes are
	// window IDs.
	for i := range failures {
		failures[i].Index = res.Failed[failures[i].Index].Index
	}

	next := *res
	next.Failed = failures
	return r.finish(ctx, &next)
}

func (r *Resolver) dispatch(ctx context.Context, source string, tasks []dispatch.Task) []dispatch.Failure {
	opts := dispatch.Options{Workers: r.opts.Workers, Logger: r.opts.Logger}
	if r.opts.ProgressOutput != nil {
		opts.Progress = progress.NewReporter(progress.Options{
			TotalSegments: len(tasks),
			Workers:       r.opts.Workers,
			Output:        r.opts.ProgressOutput,
			Source:        source,
		})
		opts.Progress.Start()
		defer opts.Progress.Stop()
	}
	return dispatch.Run(ctx, r.opts.Fetcher, tasks, opts)
}

// finish merges a grouped fetch if every window is present.
func (r *Resolver) finish(ctx context.Context, res *Result) (*Result, error) {
	if len(res.Failed) > 0 {
		level.Warn(r.opts.Logger).Log("msg", "fetch incomplete", "source", res.Source, "failed", len(res.Failed), "windows", len(res.Windows))
		return res, &IncompleteError{Failed: res.Failed, Total: len(res.Windows)}
	}

	paths := make([]string, len(res.Windows))
	for i, w := range res.Windows {
		paths[i] = SegmentPath(res.Path, w.ID)
	}
	if err := r.opts.Merger.Merge(ctx, paths, res.Path); err != nil {
		return res, err
	}
	res.Complete = true
	return res, nil
}

func (r *Resolver) exists(path string) (bool, error) {
	present, _, err := fetch.IsPresent(r.opts.Fs, path)
	if err != nil {
		return false, fmt.Errorf("output: %w", err)
	}
	if present {
		level.Info(r.opts.Logger).Log("msg", "output already present", "dest", path)
	}
	return present, nil
}

// nonEmpty drops windows that hold no bytes.
func nonEmpty(windows []catalog.Window) []catalog.Window {
	out := windows[:0]
	for _, w := range windows {
		if w.IsOpen() || w.Len() > 0 {
			out = append(out, w)
		}
	}
	return out
}

// SegmentPath is the file a window is fetched into before merging.
func SegmentPath(dest string, id int) string {
	return fmt.Sprintf("%s.tmp%d", dest, id)
}

// windowRange converts a window's exclusive end to an inclusive fetch range.
func windowRange(w catalog.Window) *fetch.Range {
	if w.IsOpen() {
		return &fetch.Range{Start: w.Start, End: -1}
	}
	return &fetch.Range{Start: w.Start, End: w.End - 1}
}
