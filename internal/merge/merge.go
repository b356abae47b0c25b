package merge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/ligustah/gribslurp/internal/metrics"
)

// DefaultCommand is the ecCodes tool used to join GRIB files.
const DefaultCommand = "grib_copy"

// ErrNoInputs is returned when Merge is called without input files.
var ErrNoInputs = errors.New("merge: no input files")

// Merger joins files, in the given order, into out. On success the inputs
// are removed. On failure they are left in place and a *Error is returned.
type Merger interface {
	Merge(ctx context.Context, paths []string, out string) error
}

// Error describes a failed merge. The inputs still exist.
type Error struct {
	Inputs []string
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("merge %d files into %s: %v", len(e.Inputs), e.Output, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a merger.
type Options struct {
	// Fs is the filesystem holding inputs and output.
	// Default: the OS filesystem
	Fs afero.Fs

	// Logger receives tool output and merge events.
	// Default: no-op
	Logger log.Logger

	// Metrics records merge outcomes. Optional.
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	return o
}

// GribCopy merges with an external GRIB-aware tool invoked as
// "<command> in1 in2 ... out". The tool works on real paths, so Fs must be
// backed by the OS filesystem.
type GribCopy struct {
	name string
	args []string
	opts Options
}

// NewGribCopy returns a merger running command. command may carry leading
// arguments, e.g. "grib_copy -r"; empty means DefaultCommand.
func NewGribCopy(command string, opts Options) *GribCopy {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{DefaultCommand}
	}
	return &GribCopy{name: fields[0], args: fields[1:], opts: opts.withDefaults()}
}

// Merge implements Merger.
func (g *GribCopy) Merge(ctx context.Context, paths []string, out string) error {
	return run(g.opts, paths, out, func() error {
		return g.exec(ctx, paths, out)
	})
}

func (g *GribCopy) exec(ctx context.Context, paths []string, out string) error {
	args := append(append(append([]string{}, g.args...), paths...), out)
	cmd := exec.CommandContext(ctx, g.name, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", g.name, err)
	}

	// The pipe must be drained before Wait closes it.
	var last string
	logger := log.With(g.opts.Logger, "tool", g.name)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		last = scanner.Text()
		level.Warn(logger).Log("msg", "merge tool output", "line", last)
	}

	if err := cmd.Wait(); err != nil {
		if last != "" {
			return fmt.Errorf("%s: %w: %s", g.name, err, last)
		}
		return fmt.Errorf("%s: %w", g.name, err)
	}
	return nil
}

// Concat merges by appending the inputs byte for byte. GRIB2 messages are
// self-delimiting, so the concatenation of whole messages is a valid file.
type Concat struct {
	opts Options
}

// NewConcat returns a byte-level merger.
func NewConcat(opts Options) *Concat {
	return &Concat{opts: opts.withDefaults()}
}

// Merge implements Merger.
func (c *Concat) Merge(ctx context.Context, paths []string, out string) error {
	return run(c.opts, paths, out, func() error {
		return c.concat(ctx, paths, out)
	})
}

func (c *Concat) concat(ctx context.Context, paths []string, out string) error {
	dst, err := c.opts.Fs.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	for _, p := range paths {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = appendFile(c.opts.Fs, dst, p); err != nil {
			break
		}
	}
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close output: %w", closeErr)
	}
	return err
}

func appendFile(fsys afero.Fs, dst io.Writer, path string) error {
	src, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

// run wraps one merge with the shared bookkeeping: input removal on
// success, partial output removal on failure, logging and metrics.
func run(opts Options, paths []string, out string, merge func() error) error {
	if len(paths) == 0 {
		return &Error{Output: out, Err: ErrNoInputs}
	}

	start := time.Now()
	err := merge()
	opts.Metrics.ObserveMerge(err, time.Since(start))

	if err != nil {
		if rmErr := opts.Fs.Remove(out); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("remove partial output: %w", rmErr))
		}
		level.Error(opts.Logger).Log("msg", "merge failed", "output", out, "inputs", len(paths), "err", err)
		return &Error{Inputs: paths, Output: out, Err: err}
	}

	var errs []error
	for _, p := range paths {
		if err := opts.Fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		// The output is complete; leftover inputs are only logged.
		level.Warn(opts.Logger).Log("msg", "could not remove merged inputs", "err", errors.Join(errs...))
	}

	level.Info(opts.Logger).Log("msg", "merged segments", "output", out, "inputs", len(paths), "duration", time.Since(start))
	return nil
}
