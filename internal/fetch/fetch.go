package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	gribhttp "github.com/ligustah/gribslurp/internal/http"
	"github.com/ligustah/gribslurp/internal/metrics"
)

// TempSuffix is appended to a destination while its bytes are in flight.
const TempSuffix = ".tmp"

// ErrNotFound is returned when the remote object does not exist.
var ErrNotFound = errors.New("fetch: object not found")

// Range is a byte range with inclusive bounds. A negative End means "to the
// end of the object".
type Range struct {
	Start int64
	End   int64
}

func (r Range) String() string {
	if r.End < 0 {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// length returns the number of bytes in r, or -1 if open ended.
func (r Range) length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

// Fetcher retrieves a remote object, or a byte range of it, into a local
// file.
//
// If dest already exists as a non-empty regular file it is returned as is:
// its size is reported and no network request is made. Otherwise, including
// when dest is empty, the bytes are written to dest+TempSuffix and renamed to
// dest once complete. A nil rng fetches the whole object.
type Fetcher interface {
	Fetch(ctx context.Context, source string, rng *Range, dest string) (int64, error)
}

// Opener streams a whole remote object. It is used to read indexes.
type Opener interface {
	Open(ctx context.Context, source string) (io.ReadCloser, error)
}

// Sizer reports the size of a remote object.
type Sizer interface {
	Size(ctx context.Context, source string) (int64, error)
}

// Error describes a failed fetch.
type Error struct {
	Source string
	Range  *Range // nil for whole-object fetches
	Dest   string
	Err    error
}

func (e *Error) Error() string {
	if e.Range == nil {
		return fmt.Sprintf("fetch %s -> %s: %v", e.Source, e.Dest, e.Err)
	}
	return fmt.Sprintf("fetch %s [%s] -> %s: %v", e.Source, e.Range, e.Dest, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the remote object does not exist,
// whatever the transport.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, gribhttp.ErrNotFound)
}

// IsPresent reports whether path holds a completed download: a regular,
// non-empty file. A directory at path is an error.
func IsPresent(fsys afero.Fs, path string) (bool, int64, error) {
	fi, err := fsys.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, 0, nil
	case err != nil:
		return false, 0, fmt.Errorf("stat destination: %w", err)
	case fi.IsDir():
		return false, 0, fmt.Errorf("destination %s is a directory", path)
	}
	return fi.Mode().IsRegular() && fi.Size() > 0, fi.Size(), nil
}

// Options configures a fetcher.
type Options struct {
	// Fs is the local filesystem segments are written to.
	// Default: the OS filesystem
	Fs afero.Fs

	// Logger receives debug and error events.
	// Default: no-op
	Logger log.Logger

	// Metrics records fetch outcomes. Optional.
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

// openFunc opens the remote bytes of one fetch. expected is the number of
// bytes the body should hold, or -1 when unknown.
type openFunc func(ctx context.Context) (body io.ReadCloser, expected int64, err error)

// cache implements the local side of Fetcher shared by every transport.
type cache struct {
	transport string
	opts      Options
}

func (c *cache) fetch(ctx context.Context, open openFunc, source string, rng *Range, dest string) (int64, error) {
	logger := log.With(c.opts.Logger, "transport", c.transport, "source", source, "dest", dest)

	if rng != nil && rng.End >= 0 && rng.End < rng.Start {
		return 0, c.fail(logger, source, rng, dest, fmt.Errorf("invalid range %s", rng))
	}

	present, size, err := IsPresent(c.opts.Fs, dest)
	if err != nil {
		return 0, c.fail(logger, source, rng, dest, err)
	}
	if present {
		level.Debug(logger).Log("msg", "segment already present", "size", size)
		c.opts.Metrics.ObserveFetch(c.transport, metrics.OutcomeCached, size, 0)
		return size, nil
	}

	if dir := filepath.Dir(dest); dir != "." {
		if err := c.opts.Fs.MkdirAll(dir, 0o755); err != nil {
			return 0, c.fail(logger, source, rng, dest, fmt.Errorf("create directory: %w", err))
		}
	}

	c.opts.Metrics.Inflight(1)
	defer c.opts.Metrics.Inflight(-1)

	start := time.Now()
	tmp := dest + TempSuffix
	n, err := c.download(ctx, open, tmp)
	if err == nil {
		err = c.opts.Fs.Rename(tmp, dest)
	}
	if err != nil {
		if rmErr := c.opts.Fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("remove temp file: %w", rmErr))
		}
		return 0, c.fail(logger, source, rng, dest, err)
	}

	c.opts.Metrics.ObserveFetch(c.transport, metrics.OutcomeFetched, n, time.Since(start))
	level.Debug(logger).Log("msg", "segment fetched", "bytes", n, "duration", time.Since(start))
	return n, nil
}

func (c *cache) download(ctx context.Context, open openFunc, tmp string) (int64, error) {
	body, expected, err := open(ctx)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := c.opts.Fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return n, fmt.Errorf("copy: %w", err)
	}
	if expected >= 0 && n != expected {
		return n, fmt.Errorf("short body: expected %d bytes, got %d", expected, n)
	}
	return n, nil
}

func (c *cache) fail(logger log.Logger, source string, rng *Range, dest string, err error) error {
	c.opts.Metrics.ObserveFetch(c.transport, metrics.OutcomeFailed, 0, 0)
	level.Error(logger).Log("msg", "segment fetch failed", "err", err)
	return &Error{Source: source, Range: rng, Dest: dest, Err: err}
}
