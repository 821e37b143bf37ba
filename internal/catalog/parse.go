package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrMissingColumn indicates a required column is absent from the header.
	ErrMissingColumn = errors.New("catalog: required column missing")

	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	// timeLayouts are tried in order. Layouts without a zone parse as UTC, and
	// fractional seconds are accepted after the seconds field by time.Parse.
	timeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006/01/02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
	}

	magnitudeColumns = []string{"mag", "magnitude"}
)

// LoadFile reads a catalog CSV from disk.
func LoadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	records, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return records, nil
}

// ReadCSV parses a catalog CSV. Input that is not valid UTF-8 is decoded as
// ISO-8859-1. Header names are normalised with NormalizeColumn; a time column
// and a magnitude column ("mag" or "magnitude") are required.
func ReadCSV(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	data, err := decodeText(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := indexColumns(header)
	timeIdx, ok := cols["time"]
	if !ok {
		return nil, fmt.Errorf("%w: time", ErrMissingColumn)
	}
	magIdx := -1
	for _, name := range magnitudeColumns {
		if idx, found := cols[name]; found {
			magIdx = idx
			break
		}
	}
	if magIdx < 0 {
		return nil, fmt.Errorf("%w: mag", ErrMissingColumn)
	}
	latIdx, hasLat := cols["latitude"]
	lonIdx, hasLon := cols["longitude"]

	records := make([]Record, 0)
	line := 1
	for {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		line++
		if readErr != nil {
			return nil, fmt.Errorf("line %d: %w", line, readErr)
		}
		if isBlankRow(row) {
			continue
		}

		rec := Record{
			Line:      line,
			Time:      ParseTime(field(row, timeIdx)),
			Magnitude: ParseFloat(field(row, magIdx)),
		}
		if hasLat {
			rec.Latitude = ParseFloat(field(row, latIdx))
		}
		if hasLon {
			rec.Longitude = ParseFloat(field(row, lonIdx))
		}
		records = append(records, rec)
	}

	return records, nil
}

// NormalizeColumn lower-cases a header name and replaces spaces with underscores.
func NormalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

// ParseTime parses a timestamp permissively and returns it in UTC, or nil if
// no supported layout matches. Bare 10 or 13 digit values are read as Unix
// seconds or milliseconds.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		var t time.Time
		switch len(s) {
		case 10:
			t = time.Unix(n, 0).UTC()
		case 13:
			t = time.UnixMilli(n).UTC()
		default:
			return nil
		}
		return &t
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseFloat parses a finite number, returning nil for blanks, garbage, NaN or Inf.
func ParseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func decodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode latin-1: %w", err)
	}
	return decoded, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := NormalizeColumn(name)
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
