package gribfetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ligustah/gribslurp/internal/fetch"
	"github.com/ligustah/gribslurp/pkg/catalog"
)

// Index formats.
const (
	FormatECMWF = "ecmwf"
	FormatGFS   = "gfs"
)

// DetectFormat guesses the index format from the locator's suffix:
// ".index" for ECMWF open data and ".idx" for NOAA GFS.
func DetectFormat(locator string) (string, error) {
	switch {
	case strings.HasSuffix(locator, ".index"):
		return FormatECMWF, nil
	case strings.HasSuffix(locator, ".idx"):
		return FormatGFS, nil
	}
	return "", fmt.Errorf("gribfetch: cannot detect index format of %q", locator)
}

// Parse parses an index in the given format.
func Parse(format string, r io.Reader) (catalog.Catalog, error) {
	switch format {
	case FormatECMWF:
		return catalog.ParseECMWF(r)
	case FormatGFS:
		return catalog.ParseGFS(r)
	}
	return nil, fmt.Errorf("gribfetch: unknown index format %q", format)
}

// LoadIndex reads the index at locator through opener and parses it. An
// empty format is detected from the locator.
//
// A malformed line yields a *catalog.ParseError together with the records
// parsed before it; callers may choose to continue with the partial catalog.
func LoadIndex(ctx context.Context, opener fetch.Opener, locator, format string) (catalog.Catalog, error) {
	if format == "" {
		f, err := DetectFormat(locator)
		if err != nil {
			return nil, err
		}
		format = f
	}

	rc, err := opener.Open(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer rc.Close()

	return Parse(format, rc)
}

// Select keeps the records matching params and levels. Empty lists select
// everything. The metadata keys depend on the index format.
func Select(cat catalog.Catalog, format string, params, levels []string) catalog.Catalog {
	paramKey, levelKey := "param", "levelist"
	if format == FormatGFS {
		paramKey, levelKey = "shortName", "level"
	}
	byParam := catalog.Match(paramKey, params...)
	byLevel := catalog.Match(levelKey, levels...)
	return cat.Filter(func(r catalog.Record) bool {
		return byParam(r) && byLevel(r)
	})
}
