// Package fetch retrieves GRIB files, or byte ranges of them, into a local
// cache.
//
// Two transports implement [Fetcher]:
//   - [HTTP]: http(s) URLs through internal/http
//   - [S3]: bucket/key locators through gocloud.dev/blob, unsigned by default
//
// # Cache contract
//
// A destination that already exists is treated as complete. Its size is
// returned and the network is not touched, even if a previous run left a
// truncated file there. Fresh bytes go to dest+".tmp" and are renamed into
// place only after the body has been copied in full. On failure the
// temporary file is removed; if removal also fails both errors are returned.
//
// # Usage
//
//	f := fetch.NewHTTP(http.NewClient(http.DefaultOptions()), fetch.Options{})
//	n, err := f.Fetch(ctx, url, &fetch.Range{Start: 0, End: 1023}, "out/seg.grib2")
//
//	s3 := fetch.NewS3(fetch.AnonymousS3("us-east-1", ""), fetch.Options{})
//	defer s3.Close()
//	n, err = s3.Fetch(ctx, "noaa-gfs-bdp-pds/gfs.20240101/00/atmos/gfs.t00z.pgrb2.0p25.f000", nil, "gfs.grib2")
package fetch
