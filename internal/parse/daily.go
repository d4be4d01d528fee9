package parse

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
)

// Daily file layouts.
const (
	FormatTab    = "daily-tab"
	FormatComma  = "daily-comma"
	FormatLegacy = "daily-legacy"

	minTabColumns = 10
	commaColumns  = 6
)

// ExtractArchive returns the NAV file inside a daily zip archive: the first
// ".out" member, or the first regular file when there is none.
func ExtractArchive(archive []byte) (name string, data []byte, err error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", nil, &domain.ParseError{Source: "archive", Err: err}
	}

	var pick *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".out") {
			pick = f
			break
		}
		if pick == nil {
			pick = f
		}
	}
	if pick == nil {
		return "", nil, &domain.ParseError{Source: "archive", Err: errors.New("archive is empty")}
	}

	rc, err := pick.Open()
	if err != nil {
		return "", nil, &domain.ParseError{Source: "archive", Err: fmt.Errorf("opening %s: %w", pick.Name, err)}
	}
	defer rc.Close()

	data, err = io.ReadAll(rc)
	if err != nil {
		return "", nil, &domain.ParseError{Source: "archive", Err: fmt.Errorf("reading %s: %w", pick.Name, err)}
	}
	return path.Base(pick.Name), data, nil
}

// DetectDaily returns the layout of a daily NAV file, or "" when unknown.
func DetectDaily(data []byte) string {
	sample := data[:min(len(data), 200)]
	sample = trimBOM(sample)
	switch {
	case bytes.ContainsRune(sample, '\t'):
		return FormatTab
	case bytes.ContainsRune(sample, ','):
		if isLegacySample(sample) {
			return FormatLegacy
		}
		return FormatComma
	}
	return ""
}

// ParseDaily parses the NAV file of a daily archive. Row problems are counted
// and returned in the result; they never fail the whole file.
func ParseDaily(data []byte) (Result, error) {
	format := DetectDaily(data)
	if format == "" {
		return Result{}, &domain.ParseError{Source: "daily", Err: errors.New("no tab or comma delimiter found")}
	}
	if format == FormatLegacy {
		return parseLegacy(data), nil
	}

	sep, minCols, offset := "\t", minTabColumns, 1
	if format == FormatComma {
		sep, minCols, offset = ",", commaColumns, 0
	}

	res := Result{Format: format}
	sc := bufio.NewScanner(bytes.NewReader(trimBOM(data)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		cols := strings.Split(raw, sep)
		if len(cols) < minCols {
			if obs, _, ok := repairLegacyLine(raw); ok && format == FormatComma {
				res.Records = append(res.Records, obs)
				continue
			}
			res.drop(line, fmt.Sprintf("expected %d columns, got %d", minCols, len(cols)), raw)
			continue
		}
		obs, reason := dailyRecord(cols, offset)
		if reason == "bad date" && format == FormatComma {
			if fixed, _, ok := repairLegacyLine(raw); ok {
				obs, reason = fixed, ""
			}
		}
		if reason != "" {
			if reason != "header" {
				res.drop(line, reason, raw)
			}
			continue
		}
		res.Records = append(res.Records, obs)
	}
	if err := sc.Err(); err != nil {
		return res, &domain.ParseError{Source: "daily", Err: err}
	}
	if len(res.Records) == 0 && res.Skipped > 0 {
		return res, &domain.ParseError{Source: "daily", Err: fmt.Errorf("all %d rows rejected", res.Skipped)}
	}
	return res, nil
}

// dailyRecord maps date, manager code, manager name, instrument code,
// instrument name and value starting at column offset. A non-empty reason
// means the row was rejected; "header" rows are not counted.
func dailyRecord(cols []string, offset int) (domain.Observation, string) {
	get := func(i int) string { return cleanCell(cols[offset+i]) }

	d, err := datefmt.Normalize(get(0))
	if errors.Is(err, datefmt.ErrHeaderToken) {
		return domain.Observation{}, "header"
	}
	if err != nil {
		return domain.Observation{}, "bad date"
	}
	code := get(3)
	if code == "" {
		return domain.Observation{}, "missing instrument code"
	}
	v, err := ParseValue(get(5))
	if err != nil {
		return domain.Observation{}, "bad value"
	}
	return domain.Observation{
		Date:           d,
		ManagerCode:    get(1),
		ManagerName:    get(2),
		InstrumentCode: code,
		InstrumentName: get(4),
		Value:          v,
	}, ""
}
