package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ligustah/gribslurp/internal/config"
	"github.com/ligustah/gribslurp/internal/fetch"
	gribhttp "github.com/ligustah/gribslurp/internal/http"
	"github.com/ligustah/gribslurp/internal/merge"
	"github.com/ligustah/gribslurp/internal/metrics"
	"github.com/ligustah/gribslurp/pkg/catalog"
	"github.com/ligustah/gribslurp/pkg/gribfetch"
)

// runFetch retrieves a GRIB2 file, or the messages of it selected through an
// index, into a local file.
func runFetch(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configFile := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", "", "File of GRIBSLURP_ variables to load")
	source := fs.String("source", "", "Remote GRIB2 file: URL, or bucket/key with -transport s3 (required)")
	index := fs.String("index", "", "Remote index of the source; omit to fetch the whole file")
	indexFormat := fs.String("index-format", "", "Index format: ecmwf or gfs (default: from the index suffix)")
	output := fs.String("output", "", "Local output file (required)")
	transport := fs.String("transport", "", "Transport: http or s3 (default http)")
	workers := fs.Int("workers", 0, "Number of parallel segment fetches (default 5)")
	mergeCommand := fs.String("merge-command", "", "GRIB merge tool, or \"concat\" to join bytes (default grib_copy)")
	params := fs.String("params", "", "Comma separated parameters to select")
	levels := fs.String("levels", "", "Comma separated levels to select")
	s3Region := fs.String("s3-region", "", "S3 region (default us-east-1)")
	s3Endpoint := fs.String("s3-endpoint", "", "S3 compatible endpoint URL")
	retryAttempts := fs.Int("retry-attempts", 0, "Max request retries on connection errors and 5xx (default 3)")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial request retry backoff (default 1s)")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 0, "Max request retry backoff (default 30s)")
	headerTimeout := fs.Duration("header-timeout", 0, "Timeout waiting for response headers (default 30s)")
	wholeTimeout := fs.Duration("whole-object-timeout", 0, "Timeout for whole-file downloads (default 5m)")
	retryFailed := fs.Int("retry-failed", 0, "Rounds of refetching failed segments before giving up")
	strictIndex := fs.Bool("strict-index", false, "Fail on a malformed index line instead of using the records before it")
	showProgress := fs.Bool("progress", false, "Show progress output")
	metricsOutput := fs.String("metrics-output", "", "Write Prometheus metrics to this file, or - for stderr")
	logLevel := fs.String("log.level", "info", "Log level: debug, info, warn or error")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: gribslurp fetch [options]

Fetch a GRIB2 file into a local file. With -index, only the messages selected
by -params and -levels are fetched: contiguous messages are grouped into byte
windows, fetched in parallel and merged in file order.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	logger, err := newLogger(stderr, *logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *configFile != "" {
		if cfg, err = config.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}
	if *envFile != "" {
		if err := cfg.LoadFromDotEnv(*envFile); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	// Only a -retry-attempts given on the command line overrides, so that
	// -retry-attempts 0 disables retries.
	var attempts *int
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "retry-attempts" {
			attempts = retryAttempts
		}
	})

	cfg = cfg.Merge(config.Config{
		Source:        *source,
		Index:         *index,
		IndexFormat:   *indexFormat,
		Output:        *output,
		Transport:     *transport,
		Workers:       *workers,
		MergeCommand:  *mergeCommand,
		Params:        config.SplitList(*params),
		Levels:        config.SplitList(*levels),
		Progress:      *showProgress,
		MetricsOutput: *metricsOutput,
		S3:            config.S3Config{Region: *s3Region, Endpoint: *s3Endpoint},
		Retry: config.RetryConfig{
			Attempts:   attempts,
			Backoff:    *retryBackoff,
			MaxBackoff: *retryMaxBackoff,
		},
		Timeouts: config.TimeoutConfig{Header: *headerTimeout, WholeObject: *wholeTimeout},
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	var (
		reg = prometheus.NewRegistry()
		m   *metrics.Metrics
	)
	if cfg.MetricsOutput != "" {
		m = metrics.New(reg)
		defer func() {
			if err := writeMetrics(reg, cfg.MetricsOutput, stderr); err != nil {
				level.Error(logger).Log("msg", "writing metrics failed", "err", err)
			}
		}()
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	rem, release, err := newRemote(cfg, logger, m)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer release()

	var cat catalog.Catalog
	if cfg.Index != "" {
		format, err := resolveIndexFormat(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}

		cat, err = gribfetch.LoadIndex(ctx, rem, cfg.Index, format)
		if code, fatal := exitCodeForIndex(err, *strictIndex); fatal {
			fmt.Fprintf(stderr, "Error loading index: %v\n", err)
			return code
		} else if err != nil {
			level.Warn(logger).Log("msg", "index partially parsed, continuing with the records before the error", "records", len(cat), "err", err)
		}

		total := len(cat)
		cat = gribfetch.Select(cat, format, cfg.Params, cfg.Levels)
		level.Info(logger).Log("msg", "index loaded", "index", cfg.Index, "format", format, "records", total, "selected", len(cat))
	}

	var merger merge.Merger
	mergeOpts := merge.Options{Logger: logger, Metrics: m}
	if cfg.MergeCommand == config.MergeConcat {
		merger = merge.NewConcat(mergeOpts)
	} else {
		merger = merge.NewGribCopy(cfg.MergeCommand, mergeOpts)
	}

	resolverOpts := gribfetch.Options{
		Fetcher: rem,
		Merger:  merger,
		Workers: cfg.Workers,
		Logger:  logger,
	}
	if cfg.Progress {
		resolverOpts.ProgressOutput = stderr
	}
	resolver := gribfetch.NewResolver(resolverOpts)

	start := time.Now()
	res, err := resolver.Resolve(ctx, cfg.Source, cfg.Output, cat)
	for round := 0; round < *retryFailed && isIncomplete(err) && ctx.Err() == nil; round++ {
		level.Info(logger).Log("msg", "retrying failed segments", "round", round+1, "failed", len(res.Failed))
		res, err = resolver.Retry(ctx, res)
	}

	if err != nil {
		return reportFetchError(ctx.Err(), err, stderr, logger)
	}

	if res.Cached {
		fmt.Fprintf(stderr, "[gribslurp] Already present: %s\n", res.Path)
	} else {
		fmt.Fprintf(stderr, "[gribslurp] Fetch complete: %s (%d windows, %s)\n", res.Path, len(res.Windows), time.Since(start).Round(time.Millisecond))
	}
	return ExitSuccess
}

func isIncomplete(err error) bool {
	var incomplete *gribfetch.IncompleteError
	return errors.As(err, &incomplete)
}

// reportFetchError prints err and maps it to an exit code.
func reportFetchError(ctxErr, err error, stderr io.Writer, logger log.Logger) int {
	var (
		incomplete *gribfetch.IncompleteError
		merr       *merge.Error
	)

	switch {
	case ctxErr != nil:
		fmt.Fprintln(stderr, "[gribslurp] Fetch interrupted, fetched segments are kept for the next run")
		return ExitGeneralError

	case errors.As(err, &incomplete):
		for _, f := range incomplete.Failed {
			level.Error(logger).Log("msg", "segment failed", "window", f.Index, "dest", f.Task.Dest, "err", f.Err)
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "[gribslurp] Run again to fetch the missing segments")
		return ExitFetchIncomplete

	case errors.As(err, &merr):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "[gribslurp] Segments are kept; fix the merge tool and run again")
		return ExitMergeFailed

	case errors.Is(err, gribhttp.ErrRangeNotSupported):
		fmt.Fprintln(stderr, "Error: Server does not support range requests")
		return ExitRangeNotSupported

	case errors.Is(err, gribfetch.ErrEmptyCatalog):
		fmt.Fprintln(stderr, "Error: no index records match the selection")
		return ExitInvalidArgs

	case fetch.IsNotFound(err), errors.Is(err, gribhttp.ErrForbidden), errors.Is(err, gribhttp.ErrUnauthorized):
		fmt.Fprintf(stderr, "Error accessing source: %v\n", err)
		return ExitSourceNotAccess

	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
}
