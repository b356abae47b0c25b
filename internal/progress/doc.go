// Package progress prints human-readable progress for a batch of segment
// fetches.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSegments: len(tasks),
//	    Workers:       5,
//	    Source:        url,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.SegmentStarted()
//	reporter.SegmentCompleted(n)
//
// # Output Format
//
//	[gribslurp] Fetching: https://data.ecmwf.int/forecasts/.../oper-fc.grib2
//	[gribslurp] Segments: 14 | Workers: 5
//	[gribslurp] Progress: 9/14 segments | 48 MiB | Speed: 12 MiB/s | ETA: 3s
//	[gribslurp] Segments: 9 completed | 5 in-progress | 0 failed | 0 pending
package progress
