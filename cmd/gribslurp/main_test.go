package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ligustah/gribslurp/internal/testutils"
	"github.com/ligustah/gribslurp/pkg/catalog"
)

const testIndex = `{"param": "2t", "step": "0", "_offset": 0, "_length": 100}
{"param": "10u", "step": "0", "_offset": 100, "_length": 100}
{"param": "msl", "step": "0", "_offset": 200, "_length": 100}
{"param": "10v", "step": "0", "_offset": 300, "_length": 100}
{"param": "tp", "step": "0", "_offset": 400, "_length": 100}
`

func startServer(t *testing.T) (*testutils.RangeServer, []byte) {
	t.Helper()
	data := testutils.GenerateTestData(500)
	server := testutils.StartRangeServer(t,
		testutils.TestFile{Name: "fc.grib2", Data: data},
		testutils.TestFile{Name: "fc.index", Data: []byte(testIndex)},
	)
	return server, data
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	if code, _, _ := runCLI(t); code != ExitInvalidArgs {
		t.Errorf("no args: got exit %d, want %d", code, ExitInvalidArgs)
	}
	if code, _, stderr := runCLI(t, "upload"); code != ExitInvalidArgs || !strings.Contains(stderr, "Unknown command") {
		t.Errorf("unknown command: got exit %d, stderr %q", code, stderr)
	}
	if code, _, _ := runCLI(t, "help"); code != ExitSuccess {
		t.Errorf("help: got exit %d", code)
	}
	if code, _, _ := runCLI(t, "fetch", "-h"); code != ExitSuccess {
		t.Errorf("fetch -h: got exit %d", code)
	}
}

func TestFetchMissingArgs(t *testing.T) {
	code, _, stderr := runCLI(t, "fetch", "-source", "https://example.com/x.grib2")
	if code != ExitInvalidArgs {
		t.Errorf("got exit %d, want %d", code, ExitInvalidArgs)
	}
	if !strings.Contains(stderr, "output is required") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestFetchBadLogLevel(t *testing.T) {
	code, _, _ := runCLI(t, "fetch", "-log.level", "loud")
	if code != ExitInvalidArgs {
		t.Errorf("got exit %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchWholeFile(t *testing.T) {
	server, data := startServer(t)
	out := filepath.Join(t.TempDir(), "whole.grib2")

	code, _, stderr := runCLI(t, "fetch",
		"-source", server.FileURL("fc.grib2"),
		"-output", out,
		"-log.level", "error",
	)
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output differs from source")
	}
}

func TestFetchSelection(t *testing.T) {
	server, data := startServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "sel.grib2")
	metricsPath := filepath.Join(dir, "metrics.prom")

	code, _, stderr := runCLI(t, "fetch",
		"-source", server.FileURL("fc.grib2"),
		"-index", server.FileURL("fc.index"),
		"-params", "2t,10u,10v",
		"-output", out,
		"-merge-command", "concat",
		"-metrics-output", metricsPath,
		"-log.level", "error",
	)
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := append(append([]byte{}, data[0:200]...), data[300:400]...)
	if !bytes.Equal(got, want) {
		t.Errorf("output = %d bytes, want %d", len(got), len(want))
	}

	entries, _ := filepath.Glob(out + ".tmp*")
	if len(entries) != 0 {
		t.Errorf("segments left behind: %v", entries)
	}

	prom, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{"gribslurp_segments_total", "gribslurp_merges_total"} {
		if !strings.Contains(string(prom), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestFetchIncomplete(t *testing.T) {
	server, _ := startServer(t)
	server.FailRange("bytes=300-399")
	out := filepath.Join(t.TempDir(), "sel.grib2")

	args := []string{"fetch",
		"-source", server.FileURL("fc.grib2"),
		"-index", server.FileURL("fc.index"),
		"-params", "2t,10u,10v",
		"-output", out,
		"-merge-command", "concat",
		"-retry-attempts", "1",
		"-retry-backoff", "1ms",
		"-log.level", "error",
	}
	code, _, stderr := runCLI(t, args...)
	if code != ExitFetchIncomplete {
		t.Fatalf("got exit %d, want %d: %s", code, ExitFetchIncomplete, stderr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output should not exist, stat err = %v", err)
	}
	if _, err := os.Stat(out + ".tmp0"); err != nil {
		t.Errorf("fetched segment should be kept: %v", err)
	}

	// A second run only fetches the missing window.
	server.ClearFailures()
	before := server.Requests()
	code, _, stderr = runCLI(t, args...)
	if code != ExitSuccess {
		t.Fatalf("rerun: got exit %d: %s", code, stderr)
	}
	// One index request plus one window.
	if got := server.Requests() - before; got != 2 {
		t.Errorf("rerun made %d requests, want 2", got)
	}
}

func TestFetchMergeFailure(t *testing.T) {
	server, _ := startServer(t)
	out := filepath.Join(t.TempDir(), "sel.grib2")

	code, _, stderr := runCLI(t, "fetch",
		"-source", server.FileURL("fc.grib2"),
		"-index", server.FileURL("fc.index"),
		"-params", "2t,10v",
		"-output", out,
		"-merge-command", "gribslurp-test-no-such-tool",
		"-log.level", "error",
	)
	if code != ExitMergeFailed {
		t.Fatalf("got exit %d, want %d: %s", code, ExitMergeFailed, stderr)
	}
	for _, seg := range []string{out + ".tmp0", out + ".tmp1"} {
		if _, err := os.Stat(seg); err != nil {
			t.Errorf("segment %s should be kept: %v", seg, err)
		}
	}
}

func TestFetchEmptySelection(t *testing.T) {
	server, _ := startServer(t)

	code, _, _ := runCLI(t, "fetch",
		"-source", server.FileURL("fc.grib2"),
		"-index", server.FileURL("fc.index"),
		"-params", "nothing",
		"-output", filepath.Join(t.TempDir(), "x.grib2"),
		"-log.level", "error",
	)
	if code != ExitInvalidArgs {
		t.Errorf("got exit %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchSourceNotFound(t *testing.T) {
	server, _ := startServer(t)

	code, _, _ := runCLI(t, "fetch",
		"-source", server.FileURL("missing.grib2"),
		"-output", filepath.Join(t.TempDir(), "x.grib2"),
		"-log.level", "error",
	)
	if code != ExitSourceNotAccess {
		t.Errorf("got exit %d, want %d", code, ExitSourceNotAccess)
	}
}

func TestFetchFromConfigFile(t *testing.T) {
	server, data := startServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "cfg.grib2")

	cfg := "source: " + server.FileURL("fc.grib2") + "\n" +
		"index: " + server.FileURL("fc.index") + "\n" +
		"params: [tp]\n" +
		"merge_command: concat\n" +
		"workers: 2\n"
	cfgPath := filepath.Join(dir, "gribslurp.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, _, stderr := runCLI(t, "fetch", "-config", cfgPath, "-output", out, "-log.level", "error")
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, data[400:500]) {
		t.Errorf("single record output differs")
	}
}

func TestIndexRecords(t *testing.T) {
	server, _ := startServer(t)

	code, stdout, stderr := runCLI(t, "index", "-index", server.FileURL("fc.index"), "-params", "2t,tp")
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 records:\n%s", len(lines), stdout)
	}
	if !strings.Contains(lines[1], "param=2t") || !strings.Contains(lines[2], "param=tp") {
		t.Errorf("unexpected records:\n%s", stdout)
	}
	if strings.Contains(stdout, "_offset") {
		t.Errorf("offset fields should not be repeated in META:\n%s", stdout)
	}
}

func TestIndexWindows(t *testing.T) {
	server, _ := startServer(t)

	code, stdout, stderr := runCLI(t, "index", "-index", server.FileURL("fc.index"), "-params", "2t,10u,10v", "-windows")
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 windows:\n%s", len(lines), stdout)
	}
	if fields := strings.Fields(lines[1]); len(fields) < 5 || fields[1] != "0" || fields[2] != "200" || fields[len(fields)-1] != "2" {
		t.Errorf("window 0 = %q", lines[1])
	}
}

func TestIndexUnknownFormat(t *testing.T) {
	code, _, _ := runCLI(t, "index", "-index", "https://example.com/file.txt")
	if code != ExitInvalidArgs {
		t.Errorf("got exit %d, want %d", code, ExitInvalidArgs)
	}
}

func TestIndexStrictParse(t *testing.T) {
	server := testutils.StartRangeServer(t,
		testutils.TestFile{Name: "fc.grib2", Data: testutils.GenerateTestData(500)},
		testutils.TestFile{Name: "fc.index", Data: []byte(testIndex + "{broken\n")},
	)
	out := filepath.Join(t.TempDir(), "x.grib2")
	base := []string{"fetch",
		"-source", server.FileURL("fc.grib2"),
		"-index", server.FileURL("fc.index"),
		"-params", "tp",
		"-output", out,
		"-log.level", "error",
	}

	if code, _, stderr := runCLI(t, append(base, "-strict-index")...); code != ExitIndexInvalid {
		t.Errorf("strict: got exit %d, want %d: %s", code, ExitIndexInvalid, stderr)
	}
	if code, _, stderr := runCLI(t, base...); code != ExitSuccess {
		t.Errorf("lenient: got exit %d: %s", code, stderr)
	}
}

func TestFetchRetryAttemptsZero(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	code, _, _ := runCLI(t, "fetch",
		"-source", server.URL+"/fc.grib2",
		"-output", filepath.Join(t.TempDir(), "x.grib2"),
		"-retry-attempts", "0",
		"-log.level", "error",
	)
	if code != ExitGeneralError {
		t.Errorf("got exit %d, want %d", code, ExitGeneralError)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestIndexSourceCoverage(t *testing.T) {
	server, _ := startServer(t)

	code, stdout, stderr := runCLI(t, "index",
		"-index", server.FileURL("fc.index"),
		"-source", server.FileURL("fc.grib2"),
		"-params", "2t,10u,10v",
		"-windows",
	)
	if code != ExitSuccess {
		t.Fatalf("got exit %d: %s", code, stderr)
	}
	if want := "Source: " + server.FileURL("fc.grib2") + " (500 B)"; !strings.Contains(stdout, want) {
		t.Errorf("stdout missing %q:\n%s", want, stdout)
	}
	if want := "Selected: 300 B (60.0%)"; !strings.Contains(stdout, want) {
		t.Errorf("stdout missing %q:\n%s", want, stdout)
	}
}

func TestIndexSourceMissing(t *testing.T) {
	server, _ := startServer(t)

	code, _, _ := runCLI(t, "index",
		"-index", server.FileURL("fc.index"),
		"-source", server.FileURL("missing.grib2"),
	)
	if code != ExitSourceNotAccess {
		t.Errorf("got exit %d, want %d", code, ExitSourceNotAccess)
	}
}

func TestSelectedBytes(t *testing.T) {
	windows := []catalog.Window{
		{ID: 0, Start: 0, End: 200},
		{ID: 1, Start: 300, End: catalog.OpenEnd},
	}
	if got := selectedBytes(windows, 500); got != 400 {
		t.Errorf("selectedBytes = %d, want 400", got)
	}
	// An open window starting past the end covers nothing.
	if got := selectedBytes(windows, 250); got != 200 {
		t.Errorf("selectedBytes = %d, want 200", got)
	}
}
