package gribfetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/gribslurp/internal/fetch"
	gribhttp "github.com/ligustah/gribslurp/internal/http"
	"github.com/ligustah/gribslurp/internal/testutils"
	"github.com/ligustah/gribslurp/pkg/catalog"
)

const ecmwfIndex = `{"param": "2t", "step": "0", "_offset": 0, "_length": 100}
{"param": "msl", "step": "0", "_offset": 100, "_length": 50}
{"param": "t", "levelist": "850", "step": "0", "_offset": 150, "_length": 70}
{"param": "10u", "step": "0", "_offset": 300, "_length": 40}
`

const gfsIndex = `1:0:d=2024010100:PRMSL:mean sea level:anl:
2:120:d=2024010100:TMP:500 mb:anl:
3:300:d=2024010100:UGRD:10 m above ground:anl:
`

func newHTTPFetcher() *fetch.HTTP {
	opts := gribhttp.DefaultOptions()
	opts.RetryAttempts = 0
	opts.RetryBackoff = time.Millisecond
	return fetch.NewHTTP(gribhttp.NewClient(opts), fetch.Options{})
}

func TestDetectFormat(t *testing.T) {
	f, err := DetectFormat("https://data.ecmwf.int/forecasts/x/20240101000000-0h-oper-fc.index")
	require.NoError(t, err)
	assert.Equal(t, FormatECMWF, f)

	f, err = DetectFormat("noaa-gfs-bdp-pds/gfs.20240101/00/atmos/gfs.t00z.pgrb2.0p25.f000.idx")
	require.NoError(t, err)
	assert.Equal(t, FormatGFS, f)

	_, err = DetectFormat("file.grib2")
	assert.Error(t, err)
}

func TestLoadIndexECMWF(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "fc.index", Data: []byte(ecmwfIndex)})

	cat, err := LoadIndex(context.Background(), newHTTPFetcher(), server.FileURL("fc.index"), "")
	require.NoError(t, err)
	require.Len(t, cat, 4)
	assert.Equal(t, "2", cat[0].Meta["levelist"])
	assert.Equal(t, int64(220), cat[2].End)
}

func TestLoadIndexGFS(t *testing.T) {
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "f000.idx", Data: []byte(gfsIndex)})

	cat, err := LoadIndex(context.Background(), newHTTPFetcher(), server.FileURL("f000.idx"), FormatGFS)
	require.NoError(t, err)
	require.Len(t, cat, 3)
	assert.Equal(t, catalog.OpenEnd, cat[2].End)
}

func TestLoadIndexPartial(t *testing.T) {
	data := ecmwfIndex + "not json\n"
	server := testutils.StartRangeServer(t, testutils.TestFile{Name: "fc.index", Data: []byte(data)})

	cat, err := LoadIndex(context.Background(), newHTTPFetcher(), server.FileURL("fc.index"), "")

	var perr *catalog.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 5, perr.Line)
	assert.Len(t, cat, 4, "records before the bad line are kept")
}

func TestLoadIndexNotFound(t *testing.T) {
	server := testutils.StartRangeServer(t)

	_, err := LoadIndex(context.Background(), newHTTPFetcher(), server.FileURL("missing.idx"), "")
	require.Error(t, err)
	assert.True(t, fetch.IsNotFound(err))
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse("grib1", strings.NewReader(""))
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	ecmwf, err := catalog.ParseECMWF(strings.NewReader(ecmwfIndex))
	require.NoError(t, err)

	got := Select(ecmwf, FormatECMWF, []string{"2t", "10u", "t"}, []string{"2", "10"})
	require.Len(t, got, 2)
	assert.Equal(t, "2t", got[0].Meta["param"])
	assert.Equal(t, "10u", got[1].Meta["param"])

	gfs, err := catalog.ParseGFS(strings.NewReader(gfsIndex))
	require.NoError(t, err)

	got = Select(gfs, FormatGFS, nil, []string{"500 mb"})
	require.Len(t, got, 1)
	assert.Equal(t, "TMP", got[0].Meta["shortName"])

	assert.Len(t, Select(gfs, FormatGFS, nil, nil), 3)
	assert.Empty(t, Select(gfs, FormatGFS, []string{"HGT"}, nil))
}
