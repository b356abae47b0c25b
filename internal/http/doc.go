// Package http provides the HTTP transport used to fetch GRIB files,
// their byte ranges and their indexes.
//
// This package handles:
//   - Connection pooling shared by all fetch workers
//   - Closed (bytes=a-b) and open (bytes=a-) range requests
//   - Whole-object requests bounded by a fixed timeout
//   - Retry with exponential backoff before any byte is consumed
//   - Content-Range verification
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Download bytes 100..199 inclusive
//	body, err := client.GetRange(ctx, url, 100, 199)
//	defer body.Close()
//
//	// Download the whole object
//	body, err := client.Get(ctx, url)
//	defer body.Close()
package http
