package catalog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ecmwfIndex = `{"domain": "g", "date": "20240101", "time": "0000", "param": "2t", "step": "0", "_offset": 0, "_length": 100}
{"domain": "g", "date": "20240101", "time": "0000", "param": "10v", "step": "0", "_offset": 100, "_length": 50}
{"domain": "g", "date": "20240101", "time": "0000", "param": "msl", "step": "0", "_offset": 150, "_length": 25}

{"domain": "g", "date": "20240101", "time": "0000", "param": "t", "levelist": "850", "step": "0", "_offset": 400, "_length": 10}
{"domain": "g", "date": "20240101", "time": "0000", "param": "u", "levelist": 500, "step": "0", "_offset": 410, "_length": 10}
`

func TestParseECMWF(t *testing.T) {
	cat, err := ParseECMWF(strings.NewReader(ecmwfIndex))
	require.NoError(t, err)
	require.Len(t, cat, 5)

	assert.Equal(t, int64(0), cat[0].Start)
	assert.Equal(t, int64(100), cat[0].End)
	assert.Equal(t, int64(150), cat[1].End)
	assert.Equal(t, int64(410), cat[3].End)

	levels := []string{"2", "10", "0", "850", "500"}
	for i, want := range levels {
		assert.Equal(t, want, cat[i].Meta["levelist"], "record %d", i)
	}

	lv, ok := cat[1].Int("levelist")
	assert.True(t, ok)
	assert.Equal(t, 10, lv)

	assert.Equal(t, "2t", cat[0].Meta["param"])
	assert.Equal(t, "100", cat[0].Meta["_length"])
}

func TestParseECMWFNullLevelist(t *testing.T) {
	cat, err := ParseECMWF(strings.NewReader(`{"param": "10u", "levelist": null, "_offset": 0, "_length": 5}`))
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "10", cat[0].Meta["levelist"])
}

func TestParseECMWFPartial(t *testing.T) {
	input := `{"param": "2t", "_offset": 0, "_length": 5}
{"param": "2t", "_offset": 5, "_length": 5}
not json
{"param": "2t", "_offset": 15, "_length": 5}`

	cat, err := ParseECMWF(strings.NewReader(input))
	require.Error(t, err)
	assert.Len(t, cat, 2)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Line)
	assert.Equal(t, "ecmwf", perr.Format)
}

func TestParseECMWFMissingOffset(t *testing.T) {
	_, err := ParseECMWF(strings.NewReader(`{"param": "2t", "_length": 5}`))
	assert.ErrorContains(t, err, "missing _offset")
}

func TestParseECMWFEmpty(t *testing.T) {
	cat, err := ParseECMWF(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, cat)
}

const gfsIndex = `1:0:d=2024010100:PRMSL:mean sea level:anl:
2:1000:d=2024010100:CLWMR:1 hybrid level:anl:
3:2500:d=2024010100:UGRD:10 m above ground:anl:
4:4000:d=2024010100:VGRD:10 m above ground:anl:
5:5200:d=2024010100:TMP:2 m above ground:anl:
`

func TestParseGFS(t *testing.T) {
	cat, err := ParseGFS(strings.NewReader(gfsIndex))
	require.NoError(t, err)
	require.Len(t, cat, 5)

	for i := 0; i < len(cat)-1; i++ {
		assert.Equal(t, cat[i+1].Start, cat[i].End, "record %d", i)
	}
	assert.Equal(t, int64(-1), cat[4].End)
	assert.True(t, cat[4].IsOpen())

	r := cat[2]
	assert.Equal(t, "3", r.Meta["message_index"])
	assert.Equal(t, "20240101", r.Meta["date"])
	assert.Equal(t, "0000", r.Meta["time"])
	assert.Equal(t, "UGRD", r.Meta["shortName"])
	assert.Equal(t, "10 m above ground", r.Meta["level"])
	assert.Equal(t, "anl", r.Meta["step"])
	assert.Equal(t, "", r.Meta["type"])
}

func TestParseGFSOrdersByMessageIndex(t *testing.T) {
	input := `3:200:d=2024010106:TMP:surface:6 hour fcst:
1:0:d=2024010106:PRMSL:mean sea level:6 hour fcst:
2:120:d=2024010106:HGT:500 mb:6 hour fcst:
`
	cat, err := ParseGFS(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, cat, 3)

	assert.Equal(t, []int64{0, 120, 200}, []int64{cat[0].Start, cat[1].Start, cat[2].Start})
	assert.Equal(t, []int64{120, 200, -1}, []int64{cat[0].End, cat[1].End, cat[2].End})
	assert.Equal(t, "0600", cat[0].Meta["time"])
}

func TestParseGFSSubRecords(t *testing.T) {
	input := `1:0:d=2024010100:HGT:500 mb:anl:
2.1:300:d=2024010100:UGRD:500 mb:anl:
2.2:300:d=2024010100:VGRD:500 mb:anl:
3:900:d=2024010100:TMP:500 mb:anl:
`
	cat, err := ParseGFS(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, cat, 3)

	assert.Equal(t, "UGRD,VGRD", cat[1].Meta["shortName"])
	assert.Equal(t, int64(300), cat[1].Start)
	assert.Equal(t, int64(900), cat[1].End)
}

func TestParseGFSPartial(t *testing.T) {
	input := `1:0:d=2024010100:HGT:500 mb:anl:
2:300:d=2024010100:UGRD:500 mb:anl:
garbage
4:900:d=2024010100:TMP:500 mb:anl:
`
	cat, err := ParseGFS(strings.NewReader(input))

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 3, perr.Line)
	require.Len(t, cat, 2)
	assert.Equal(t, int64(300), cat[0].End)
	assert.Equal(t, int64(-1), cat[1].End)
}

func TestParseGFSBadDate(t *testing.T) {
	_, err := ParseGFS(strings.NewReader("1:0:2024010100:HGT:500 mb:anl:\n"))
	assert.ErrorContains(t, err, "invalid date field")
}

func TestParseGFSOrphanSubRecord(t *testing.T) {
	_, err := ParseGFS(strings.NewReader("1.2:0:d=2024010100:VGRD:500 mb:anl:\n"))
	assert.ErrorContains(t, err, "without parent")
}

func TestParseGFSOrphanSubRecordLine(t *testing.T) {
	input := `1:0:d=2024010100:HGT:500 mb:anl:
3.2:300:d=2024010100:VGRD:500 mb:anl:
4:900:d=2024010100:TMP:500 mb:anl:
`
	cat, err := ParseGFS(strings.NewReader(input))

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	require.Len(t, cat, 1)
	assert.Equal(t, "HGT", cat[0].Meta["shortName"])
}

func TestMatchCollatedShortName(t *testing.T) {
	input := `1:0:d=2024010100:HGT:500 mb:anl:
2.1:300:d=2024010100:UGRD:500 mb:anl:
2.2:300:d=2024010100:VGRD:500 mb:anl:
3:900:d=2024010100:TMP:500 mb:anl:
`
	cat, err := ParseGFS(strings.NewReader(input))
	require.NoError(t, err)

	got := cat.Filter(Match("shortName", "VGRD"))
	require.Len(t, got, 1)
	assert.Equal(t, int64(300), got[0].Start)

	none := cat.Filter(Match("shortName", "PRES"))
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
