// Package metrics holds the Prometheus instruments shared by the fetch,
// dispatch and merge stages.
//
// # Usage
//
// Register the instruments once per process and hand the *Metrics to the
// fetchers and mergers:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//
//	f := fetch.NewHTTP(client, fetch.Options{Metrics: m})
//	merger := merge.NewConcat(merge.Options{Metrics: m})
//
// A nil *Metrics is valid and records nothing, so instrumentation stays
// optional for library callers.
//
// Metrics are namespaced "gribslurp". segments_total is labelled by transport
// and outcome (fetched, cached or failed); merges_total by outcome.
package metrics
