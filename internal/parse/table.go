// Package parse turns raw upstream payloads into NAV observations. Payload
// shapes are detected by trying an ordered chain of table readers; columns are
// then resolved from header text with a positional fallback.
package parse

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"navfeed/internal/domain"
)

// Table is a rectangular-ish grid of cells. Rows may have different lengths.
type Table [][]string

// nonEmpty reports whether at least one row has two or more non-blank cells.
func (t Table) nonEmpty() bool {
	for _, row := range t {
		n := 0
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n >= 2 {
			return true
		}
	}
	return false
}

// TableReader is one strategy in the detection chain.
type TableReader interface {
	Name() string
	// Accepts is a cheap sniff; readers that do not accept a payload are
	// skipped without being counted as failures.
	Accepts(payload []byte) bool
	Read(payload []byte) (Table, error)
}

var (
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic  = []byte("PK\x03\x04")
)

func isBinary(payload []byte) bool {
	return bytes.HasPrefix(payload, ole2Magic) || bytes.HasPrefix(payload, zipMagic)
}

// DefaultReaders is the detection chain in priority order.
var DefaultReaders = []TableReader{
	delimitedReader{name: "tsv", comma: '\t'},
	delimitedReader{name: "csv", comma: ','},
	xlsReader{},
	xlsxReader{},
	genericReader{},
}

// ErrNoTable is wrapped by the ParseError returned when every reader fails.
var ErrNoTable = errors.New("no reader produced a table")

// ParseTable runs readers in order and returns the first non-empty table with
// the name of the reader that produced it.
func ParseTable(payload []byte, readers ...TableReader) (Table, string, error) {
	if len(readers) == 0 {
		readers = DefaultReaders
	}
	var errs []error
	for _, r := range readers {
		if !r.Accepts(payload) {
			continue
		}
		t, err := r.Read(payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		if t.nonEmpty() {
			return t, r.Name(), nil
		}
	}
	errs = append([]error{ErrNoTable}, errs...)
	return nil, "", &domain.ParseError{Source: "table", Err: errors.Join(errs...)}
}

// ---------------------------------------------------------------------------
// Delimited text
// ---------------------------------------------------------------------------

type delimitedReader struct {
	name  string
	comma rune
}

func (r delimitedReader) Name() string { return r.name }

func (r delimitedReader) Accepts(payload []byte) bool {
	if isBinary(payload) {
		return false
	}
	return bytes.ContainsRune(firstLine(payload), r.comma)
}

func (r delimitedReader) Read(payload []byte) (Table, error) {
	cr := csv.NewReader(bytes.NewReader(trimBOM(payload)))
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var t Table
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t = append(t, trimCells(rec))
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Spreadsheets
// ---------------------------------------------------------------------------

type xlsReader struct{}

func (xlsReader) Name() string                { return "xls" }
func (xlsReader) Accepts(payload []byte) bool { return bytes.HasPrefix(payload, ole2Magic) }

func (xlsReader) Read(payload []byte) (t Table, err error) {
	// The xls decoder panics on some truncated workbooks.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("decoding workbook: %v", p)
		}
	}()
	wb, err := xls.OpenReader(bytes.NewReader(payload), "utf-8")
	if err != nil {
		return nil, err
	}
	for _, row := range wb.ReadAllCells(1 << 20) {
		t = append(t, trimCells(row))
	}
	return t, nil
}

type xlsxReader struct{}

func (xlsxReader) Name() string                { return "xlsx" }
func (xlsxReader) Accepts(payload []byte) bool { return bytes.HasPrefix(payload, zipMagic) }

func (xlsxReader) Read(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	t := make(Table, 0, len(rows))
	for _, row := range rows {
		t = append(t, trimCells(row))
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Generic text
// ---------------------------------------------------------------------------

// genericReader splits lines on the most frequent of ';', '|' or runs of
// whitespace in the first lines of the payload.
type genericReader struct{}

func (genericReader) Name() string                { return "generic" }
func (genericReader) Accepts(payload []byte) bool { return !isBinary(payload) && len(payload) > 0 }

func (genericReader) Read(payload []byte) (Table, error) {
	sep := sniffSeparator(payload)
	var t Table
	sc := bufio.NewScanner(bytes.NewReader(trimBOM(payload)))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var cells []string
		if sep == "" {
			cells = strings.Fields(line)
		} else {
			cells = strings.Split(line, sep)
		}
		t = append(t, trimCells(cells))
	}
	return t, sc.Err()
}

func sniffSeparator(payload []byte) string {
	head := payload[:min(len(payload), 2048)]
	best, bestN := "", 0
	for _, sep := range []string{";", "|"} {
		if n := bytes.Count(head, []byte(sep)); n > bestN {
			best, bestN = sep, n
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func firstLine(payload []byte) []byte {
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		return payload[:i]
	}
	return payload
}

func trimBOM(payload []byte) []byte { return bytes.TrimPrefix(payload, []byte("\xEF\xBB\xBF")) }

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = cleanCell(c)
	}
	return out
}

func cleanCell(c string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(c), `"`))
}
