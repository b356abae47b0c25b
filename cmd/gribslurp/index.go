package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ligustah/gribslurp/internal/config"
	"github.com/ligustah/gribslurp/internal/progress"
	"github.com/ligustah/gribslurp/pkg/catalog"
	"github.com/ligustah/gribslurp/pkg/gribfetch"
)

// runIndex loads an index and prints its records, or the byte windows a
// fetch of the selection would request.
func runIndex(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.SetOutput(stderr)

	index := fs.String("index", "", "Remote index: URL, or bucket/key with -transport s3 (required)")
	source := fs.String("source", "", "Remote GRIB2 file the index describes; reports how much of it the selection covers")
	indexFormat := fs.String("index-format", "", "Index format: ecmwf or gfs (default: from the index suffix)")
	transport := fs.String("transport", config.TransportHTTP, "Transport: http or s3")
	params := fs.String("params", "", "Comma separated parameters to select")
	levels := fs.String("levels", "", "Comma separated levels to select")
	s3Region := fs.String("s3-region", "us-east-1", "S3 region")
	s3Endpoint := fs.String("s3-endpoint", "", "S3 compatible endpoint URL")
	windows := fs.Bool("windows", false, "Print byte windows instead of records")
	logLevel := fs.String("log.level", "warn", "Log level: debug, info, warn or error")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: gribslurp index [options]

Print the records of a GRIB2 index (ECMWF JSON lines or wgrib2 inventory),
optionally narrowed by -params and -levels. With -windows, print the grouped
byte ranges a fetch would request instead. With -source, also print the
size of the GRIB2 file and the share of it the selection covers.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if *index == "" {
		fmt.Fprintln(stderr, "Error: -index is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	logger, err := newLogger(stderr, *logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	cfg := config.Default()
	cfg = cfg.Merge(config.Config{
		Index:       *index,
		IndexFormat: *indexFormat,
		Transport:   *transport,
		S3:          config.S3Config{Region: *s3Region, Endpoint: *s3Endpoint},
	})

	format, err := resolveIndexFormat(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	rem, release, err := newRemote(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer release()

	cat, err := gribfetch.LoadIndex(ctx, rem, cfg.Index, format)
	if code, fatal := exitCodeForIndex(err, false); fatal {
		fmt.Fprintf(stderr, "Error loading index: %v\n", err)
		return code
	} else if err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	cat = gribfetch.Select(cat, format, config.SplitList(*params), config.SplitList(*levels))
	groups := catalog.Group(cat)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	if *windows {
		printWindows(tw, groups)
	} else {
		printRecords(tw, cat)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if *source != "" {
		size, err := rem.Size(ctx, *source)
		if err != nil {
			fmt.Fprintf(stderr, "Error accessing source: %v\n", err)
			return ExitSourceNotAccess
		}
		printCoverage(stdout, *source, size, selectedBytes(groups, size))
	}
	return ExitSuccess
}

// selectedBytes is the number of bytes of an object of the given size that
// the windows cover. Open windows run to the end of the object.
func selectedBytes(windows []catalog.Window, size int64) int64 {
	var n int64
	for _, w := range windows {
		switch {
		case !w.IsOpen():
			n += w.Len()
		case size > w.Start:
			n += size - w.Start
		}
	}
	return n
}

func printCoverage(w io.Writer, source string, size, selected int64) {
	share := 0.0
	if size > 0 {
		share = 100 * float64(selected) / float64(size)
	}
	fmt.Fprintf(w, "\nSource: %s (%s)\nSelected: %s (%.1f%%)\n",
		source, progress.FormatBytes(size), progress.FormatBytes(selected), share)
}

func printRecords(w io.Writer, cat catalog.Catalog) {
	fmt.Fprintln(w, "START\tEND\tMETA")
	for _, r := range cat {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.Start, endString(r.End), metaString(r.Meta))
	}
}

func printWindows(w io.Writer, windows []catalog.Window) {
	fmt.Fprintln(w, "ID\tSTART\tEND\tSIZE\tRECORDS")
	for _, win := range windows {
		size := "-"
		if !win.IsOpen() {
			size = progress.FormatBytes(win.Len())
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\n", win.ID, win.Start, endString(win.End), size, len(win.Records))
	}
}

func endString(end int64) string {
	if end < 0 {
		return "EOF"
	}
	return fmt.Sprint(end)
}

// metaString renders metadata as sorted key=value pairs, skipping the
// offset fields already shown as columns.
func metaString(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + meta[k]
	}
	return strings.Join(pairs, " ")
}
