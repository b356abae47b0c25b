// Package testutils provides shared test infrastructure.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// TestFile defines a file served by a RangeServer.
type TestFile struct {
	Name string
	Data []byte
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// RangeServer is an HTTP server with byte range support that records the
// requests it receives.
type RangeServer struct {
	*httptest.Server

	requests atomic.Int64

	mu     sync.Mutex
	ranges []string
	fail   map[string]bool
}

// StartRangeServer serves files at /<name>. It is closed when the test ends.
func StartRangeServer(t *testing.T, files ...TestFile) *RangeServer {
	t.Helper()

	fileMap := make(map[string][]byte)
	for _, f := range files {
		fileMap["/"+f.Name] = f.Data
	}

	rs := &RangeServer{fail: make(map[string]bool)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)

		rangeHeader := r.Header.Get("Range")
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, rangeHeader)
		failing := rs.fail[rangeHeader]
		rs.mu.Unlock()

		if failing {
			http.Error(w, "injected failure", http.StatusForbidden)
			return
		}

		data, ok := fileMap[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		size := int64(len(data))

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}

		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Write(data)
			return
		}

		// Parse range header: bytes=start-end or bytes=start-
		spec := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.Split(spec, "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end := size - 1
		if parts[1] != "" {
			end, _ = strconv.ParseInt(parts[1], 10, 64)
		}
		if end >= size {
			end = size - 1
		}
		if start > end {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	t.Cleanup(rs.Close)
	return rs
}

// FileURL returns the address of the named file.
func (rs *RangeServer) FileURL(name string) string {
	return rs.Server.URL + "/" + name
}

// Requests returns the number of requests served so far.
func (rs *RangeServer) Requests() int64 {
	return rs.requests.Load()
}

// Ranges returns the Range headers received so far, in arrival order.
func (rs *RangeServer) Ranges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

// FailRange makes requests carrying exactly this Range header fail with 403.
func (rs *RangeServer) FailRange(header string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.fail[header] = true
}

// ClearFailures undoes every FailRange call.
func (rs *RangeServer) ClearFailures() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	clear(rs.fail)
}
