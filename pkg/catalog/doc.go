// Package catalog describes the message layout of a remote GRIB2 file and
// groups it into contiguous byte windows.
//
// A [Catalog] is an ordered list of [Record] values, one per GRIB message,
// produced by parsing a remote index. Two index dialects are supported:
//
//   - [ParseECMWF]: newline-delimited JSON as published alongside ECMWF open
//     data (`_offset`, `_length`, plus passthrough fields)
//   - [ParseGFS]: wgrib2 "short" inventories as published alongside NOAA GFS
//     files (`index:offset:d=YYYYMMDDHH:name:level:step:type`)
//
// # Grouping
//
// [Group] coalesces records whose byte ranges touch end-to-end into
// [Window] values so that each window can be fetched with a single range
// request:
//
//	cat, err := catalog.ParseGFS(r)
//	cat = cat.Filter(catalog.Match("shortName", "UGRD", "VGRD"))
//	for _, w := range catalog.Group(cat) {
//	    // w.ID, w.Start, w.End, w.Records
//	}
//
// Adjacency is exact: a record extends the current window only when its
// start equals the window's end. Records are never modified by grouping.
//
// # Open ends
//
// Inventories that carry offsets only cannot know where the final message
// ends. Such records use [OpenEnd] as their end, meaning "to the end of the
// object". A window containing an open-ended record is itself open ended.
package catalog
