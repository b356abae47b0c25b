package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/ligustah/gribslurp/internal/config"
	"github.com/ligustah/gribslurp/internal/fetch"
	gribhttp "github.com/ligustah/gribslurp/internal/http"
	"github.com/ligustah/gribslurp/internal/metrics"
	"github.com/ligustah/gribslurp/pkg/catalog"
	"github.com/ligustah/gribslurp/pkg/gribfetch"
)

// remote is what a transport offers the commands.
type remote interface {
	fetch.Fetcher
	fetch.Opener
	fetch.Sizer
}

// newRemote builds the transport selected by cfg. The returned function
// releases it.
func newRemote(cfg config.Config, logger log.Logger, m *metrics.Metrics) (remote, func(), error) {
	opts := fetch.Options{Logger: logger, Metrics: m}

	switch cfg.Transport {
	case config.TransportHTTP:
		client := gribhttp.NewClient(gribhttp.Options{
			MaxIdleConnsPerHost: cfg.Workers * 2,
			HeaderTimeout:       cfg.Timeouts.Header,
			WholeObjectTimeout:  cfg.Timeouts.WholeObject,
			RetryAttempts:       cfg.Retry.MaxRetries(),
			RetryBackoff:        cfg.Retry.Backoff,
			RetryMaxBackoff:     cfg.Retry.MaxBackoff,
			UserAgent:           "gribslurp",
		})
		return fetch.NewHTTP(client, opts), func() {}, nil

	case config.TransportS3:
		s3 := fetch.NewS3(fetch.AnonymousS3(cfg.S3.Region, cfg.S3.Endpoint), opts)
		return s3, func() { s3.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// resolveIndexFormat returns the configured format or guesses it from the locator.
func resolveIndexFormat(cfg config.Config) (string, error) {
	if cfg.IndexFormat != "" {
		return cfg.IndexFormat, nil
	}
	return gribfetch.DetectFormat(cfg.Index)
}

// exitCodeForIndex maps a LoadIndex error to an exit code. A parse error is
// only fatal when strict is set.
func exitCodeForIndex(err error, strict bool) (int, bool) {
	var perr *catalog.ParseError
	switch {
	case err == nil:
		return ExitSuccess, false
	case errors.As(err, &perr):
		if strict {
			return ExitIndexInvalid, true
		}
		return ExitSuccess, false
	case errors.Is(err, gribhttp.ErrRangeNotSupported):
		return ExitRangeNotSupported, true
	default:
		return ExitSourceNotAccess, true
	}
}

// writeMetrics writes the gathered metrics in the Prometheus text format to
// path, or to stderr when path is "-".
func writeMetrics(reg prometheus.Gatherer, path string, stderr io.Writer) error {
	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	w := stderr
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create metrics file: %w", err)
		}
		defer f.Close()
		w = f
	}

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
