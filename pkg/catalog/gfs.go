package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var gfsDate = regexp.MustCompile(`^d=(\d{8})(\d{2})$`)

// gfsEntry is a parsed inventory line before sub-record collation.
type gfsEntry struct {
	index int
	sub   int
	line  int
	rec   Record
}

// ParseGFS parses a wgrib2 "short" inventory as published with NOAA GFS
// files. Lines have the form
//
//	index:offset:d=YYYYMMDDHH:shortName:level:step:type
//
// Records are ordered by message index and the end of each record is the
// offset of the next one. The last record ends at OpenEnd.
//
// An index of the form N.M marks a sub-record sharing message N's bytes (wind
// vectors, for example). Sub-records are folded into their parent and their
// short names appended to the parent's shortName, comma separated.
//
// On a malformed line parsing stops; the records read so far are returned,
// ordered and with ends derived, along with a *ParseError.
func ParseGFS(r io.Reader) (Catalog, error) {
	var (
		entries []gfsEntry
		lineNo  int
		perr    error
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		e, err := parseGFSLine(line)
		if err != nil {
			perr = &ParseError{Format: "gfs", Line: lineNo, Err: err}
			break
		}
		e.line = lineNo
		entries = append(entries, e)
	}
	if perr == nil {
		if err := scanner.Err(); err != nil {
			perr = &ParseError{Format: "gfs", Line: lineNo + 1, Err: err}
		}
	}

	cat, err := collateGFS(entries)
	if perr == nil && err != nil {
		perr = err
	}
	return cat, perr
}

func parseGFSLine(line string) (gfsEntry, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 7 {
		return gfsEntry{}, errors.New("too few fields")
	}

	index, sub, err := parseRecordNumber(fields[0])
	if err != nil {
		return gfsEntry{}, err
	}

	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return gfsEntry{}, fmt.Errorf("offset: %w", err)
	}
	if offset < 0 {
		return gfsEntry{}, fmt.Errorf("negative offset %d", offset)
	}

	m := gfsDate.FindStringSubmatch(fields[2])
	if m == nil {
		return gfsEntry{}, fmt.Errorf("invalid date field %q", fields[2])
	}

	return gfsEntry{
		index: index,
		sub:   sub,
		rec: Record{
			Start: offset,
			End:   OpenEnd,
			Meta: map[string]string{
				"message_index": strconv.Itoa(index),
				"date":          m[1],
				"time":          m[2] + "00",
				"shortName":     fields[3],
				"level":         fields[4],
				"step":          fields[5],
				"type":          fields[6],
			},
		},
	}, nil
}

// parseRecordNumber splits "N" or "N.M" into its parts. A bare N is
// sub-record 1.
func parseRecordNumber(s string) (int, int, error) {
	major, minor, found := strings.Cut(s, ".")
	index, err := strconv.Atoi(major)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid record number %q", s)
	}
	if !found {
		return index, 1, nil
	}
	sub, err := strconv.Atoi(minor)
	if err != nil || sub < 1 {
		return 0, 0, fmt.Errorf("invalid record number %q", s)
	}
	return index, sub, nil
}

func collateGFS(entries []gfsEntry) (Catalog, error) {
	slices.SortStableFunc(entries, func(a, b gfsEntry) int {
		if a.index != b.index {
			return a.index - b.index
		}
		return a.sub - b.sub
	})

	var (
		cat     Catalog
		lastIdx = -1
		err     error
	)
	for _, e := range entries {
		if e.sub > 1 {
			if lastIdx != e.index || len(cat) == 0 {
				err = &ParseError{Format: "gfs", Line: e.line, Err: fmt.Errorf("sub-record %d.%d without parent", e.index, e.sub)}
				break
			}
			parent := cat[len(cat)-1]
			parent.Meta["shortName"] += "," + e.rec.Meta["shortName"]
			continue
		}
		cat = append(cat, e.rec)
		lastIdx = e.index
	}

	for i := 0; i+1 < len(cat); i++ {
		cat[i].End = cat[i+1].Start
	}
	return cat, err
}
