// Package merge joins fetched segment files into one GRIB file.
//
// [GribCopy] shells out to ecCodes' grib_copy (or any tool taking
// "in1 in2 ... out"), forwarding its stderr to the logger line by line.
// [Concat] appends the inputs byte for byte and needs no external tools.
//
// Both remove their inputs once the output is written. When a merge fails
// the inputs stay on disk so a later run can retry without refetching.
package merge
