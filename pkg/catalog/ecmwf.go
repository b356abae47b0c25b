package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.Config{UseNumber: true}.Froze()

// Levels assigned to ECMWF records that do not carry a levelist field.
var defaultECMWFLevels = map[string]int{
	"2t":  2,
	"10u": 10,
	"10v": 10,
}

// ParseECMWF parses a newline-delimited JSON index as published with ECMWF
// open data. Each object must carry _offset and _length; every other field
// is kept in Record.Meta as a string.
//
// A missing or null levelist is filled in from the parameter: 2t gets 2,
// 10u and 10v get 10 and anything else gets 0.
//
// On a malformed line parsing stops and the records read so far are returned
// along with a *ParseError.
func ParseECMWF(r io.Reader) (Catalog, error) {
	var (
		cat    Catalog
		lineNo int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := parseECMWFLine(line)
		if err != nil {
			return cat, &ParseError{Format: "ecmwf", Line: lineNo, Err: err}
		}
		cat = append(cat, rec)
	}
	if err := scanner.Err(); err != nil {
		return cat, &ParseError{Format: "ecmwf", Line: lineNo + 1, Err: err}
	}

	return cat, nil
}

func parseECMWFLine(line string) (Record, error) {
	var fields map[string]any
	if err := jsonAPI.UnmarshalFromString(line, &fields); err != nil {
		return Record{}, err
	}

	offset, err := intField(fields, "_offset")
	if err != nil {
		return Record{}, err
	}
	length, err := intField(fields, "_length")
	if err != nil {
		return Record{}, err
	}
	if offset < 0 || length < 0 {
		return Record{}, fmt.Errorf("negative range _offset=%d _length=%d", offset, length)
	}

	rec := Record{
		Start: offset,
		End:   offset + length,
		Meta:  make(map[string]string, len(fields)),
	}
	for k, v := range fields {
		if v == nil {
			continue
		}
		rec.Meta[k] = stringify(v)
	}

	if lv, ok := rec.Meta["levelist"]; ok {
		n, err := strconv.Atoi(lv)
		if err != nil {
			return Record{}, fmt.Errorf("levelist: %w", err)
		}
		rec.Meta["levelist"] = strconv.Itoa(n)
	} else {
		rec.Meta["levelist"] = strconv.Itoa(defaultECMWFLevels[rec.Meta["param"]])
	}

	return rec, nil
}

func intField(fields map[string]any, key string) (int64, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		s, err := jsonAPI.MarshalToString(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return s
	}
}
