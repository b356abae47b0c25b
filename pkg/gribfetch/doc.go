// Package gribfetch retrieves selected messages of a remote GRIB2 file into
// one local file.
//
// A [Resolver] takes a source locator, a destination and an optional
// [catalog.Catalog]:
//
//   - no catalog: the whole object is fetched into the destination
//   - one record: its bytes are fetched straight into the destination
//   - several records: records are grouped into contiguous windows, each
//     window is fetched into "<dest>.tmp<ID>" on a worker pool and the
//     segments are merged in window order
//
// If some windows fail, Resolve returns an [*IncompleteError] and keeps the
// fetched segments; [Resolver.Retry] fetches only what is missing and then
// merges. Existing files are never refetched.
//
// Catalogs come from provider indexes via [LoadIndex], usually narrowed down
// with [Select]:
//
//	cat, err := gribfetch.LoadIndex(ctx, fetcher, url+".index", "")
//	cat = gribfetch.Select(cat, gribfetch.FormatECMWF, []string{"2t", "10u", "10v"}, nil)
//	res, err := gribfetch.NewResolver(gribfetch.Options{Fetcher: fetcher}).Resolve(ctx, url, "out.grib2", cat)
package gribfetch
