// Package dispatch runs a batch of segment fetches on a bounded worker pool.
//
// Workers receive tasks from a channel and call a [fetch.Fetcher] for each.
// Every task is attempted once. Failures are collected with the task's
// submission index, so callers can tell exactly which segments are missing
// regardless of the order in which workers finished.
//
//	failures := dispatch.Run(ctx, fetcher, tasks, dispatch.Options{Workers: 8})
//	if len(failures) > 0 {
//	    failures = dispatch.Run(ctx, fetcher, dispatch.Tasks(failures), dispatch.Options{})
//	}
package dispatch
