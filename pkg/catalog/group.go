package catalog

import "fmt"

// Window is a run of records whose byte ranges touch end-to-end.
type Window struct {
	// ID is the window's position in ascending start order, from 0.
	ID int

	// Start is the smallest start of the member records.
	Start int64

	// End is the largest end of the member records, or OpenEnd.
	End int64

	// Records are the members in start order.
	Records []Record
}

// IsOpen reports whether the window extends to the end of the object.
func (w Window) IsOpen() bool {
	return w.End < 0
}

// Len returns the window size in bytes, or -1 if open ended.
func (w Window) Len() int64 {
	if w.IsOpen() {
		return -1
	}
	return w.End - w.Start
}

func (w Window) String() string {
	if w.IsOpen() {
		return fmt.Sprintf("window %d [%d,EOF) %d records", w.ID, w.Start, len(w.Records))
	}
	return fmt.Sprintf("window %d [%d,%d) %d records", w.ID, w.Start, w.End, len(w.Records))
}

// Group coalesces the records of c into contiguous windows. c may be
// unsorted and is not modified.
//
// A record joins the current window only when its start equals the window's
// end. Any gap or overlap starts a new window. Window IDs ascend with start
// offset.
func Group(c Catalog) []Window {
	switch len(c) {
	case 0:
		return nil
	case 1:
		return []Window{newWindow(0, c[0])}
	}

	var (
		sorted  = c.Sorted()
		windows []Window
		cur     = newWindow(0, sorted[0])
	)
	for _, r := range sorted[1:] {
		if !cur.IsOpen() && r.Start == cur.End {
			cur.add(r)
			continue
		}
		windows = append(windows, cur)
		cur = newWindow(cur.ID+1, r)
	}

	// The window holding the final record is still open here.
	return append(windows, cur)
}

func newWindow(id int, r Record) Window {
	return Window{ID: id, Start: r.Start, End: r.End, Records: []Record{r}}
}

func (w *Window) add(r Record) {
	w.Records = append(w.Records, r)
	if r.Start < w.Start {
		w.Start = r.Start
	}
	switch {
	case r.IsOpen():
		w.End = OpenEnd
	case !w.IsOpen() && r.End > w.End:
		w.End = r.End
	}
}
