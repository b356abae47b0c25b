package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// OpenEnd marks a record or window that extends to the end of the object.
const OpenEnd int64 = -1

// Record is one GRIB message in a remote file.
type Record struct {
	// Start is the byte offset of the message (inclusive).
	Start int64

	// End is the byte offset just past the message (exclusive), or OpenEnd.
	End int64

	// Meta holds provider specific fields (param, levelist, step, ...).
	Meta map[string]string
}

// IsOpen reports whether the record extends to the end of the object.
func (r Record) IsOpen() bool {
	return r.End < 0
}

// Int returns the metadata field key parsed as an integer.
func (r Record) Int(key string) (int, bool) {
	v, ok := r.Meta[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r Record) String() string {
	if r.IsOpen() {
		return fmt.Sprintf("[%d,EOF)", r.Start)
	}
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Catalog is the ordered set of records describing one remote file.
type Catalog []Record

// Sorted returns a copy of c ordered by Start. Records with equal starts
// keep their relative order.
func (c Catalog) Sorted() Catalog {
	out := slices.Clone(c)
	slices.SortStableFunc(out, func(a, b Record) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Filter returns the records for which keep returns true. The result is
// never nil, so an empty selection is distinguishable from "no catalog".
func (c Catalog) Filter(keep func(Record) bool) Catalog {
	out := Catalog{}
	for _, r := range c {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Match returns a filter accepting records whose metadata field key equals
// one of values. A comma separated field, as produced for collated GFS
// sub-records, matches when any element does. With no values every record
// is accepted.
func Match(key string, values ...string) func(Record) bool {
	if len(values) == 0 {
		return func(Record) bool { return true }
	}
	want := make(map[string]struct{}, len(values))
	for _, v := range values {
		want[v] = struct{}{}
	}
	return func(r Record) bool {
		for _, v := range strings.Split(r.Meta[key], ",") {
			if _, ok := want[v]; ok {
				return true
			}
		}
		return false
	}
}

// ParseError reports a malformed index line. Parsers return it together with
// the records parsed before the failure.
type ParseError struct {
	Format string // "ecmwf" or "gfs"
	Line   int    // 1-based line number
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("catalog: parse %s index line %d: %v", e.Format, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
