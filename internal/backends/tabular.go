package backends

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"gemfeed/internal/feeds"
)

// widthKey records how many cells a positional row carried.
const widthKey = "#width"

var spaceRE = regexp.MustCompile(`\s+`)

// Table is a header row plus its data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable parses a CSV, TSV or XLSX file by extension. Text files are
// decoded to UTF-8 first.
func ReadTable(path string, data []byte) (Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(data)
	case ".tsv", ".txt":
		return ParseDelimited(data, '\t')
	default:
		return ParseDelimited(data, ',')
	}
}

func ParseDelimited(data []byte, comma rune) (Table, error) {
	text, err := feeds.DecodeText(data)
	if err != nil {
		return Table{}, err
	}
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var t Table
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t, fmt.Errorf("line %d: %w", len(t.Rows)+2, err)
		}
		if t.Header == nil {
			t.Header = row
			continue
		}
		if blankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if t.Header == nil {
		return t, fmt.Errorf("%w: empty file", ErrSourceMissing)
	}
	return t, nil
}

// ParseXLSX reads the first sheet that has rows. The first non-blank row is
// the header.
func ParseXLSX(data []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var t Table
		for _, row := range rows {
			if blankRow(row) {
				continue
			}
			if t.Header == nil {
				t.Header = row
				continue
			}
			t.Rows = append(t.Rows, row)
		}
		if t.Header != nil {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: workbook has no rows", ErrSourceMissing)
}

// ParseHTMLTables returns every table with a header and at least one row.
func ParseHTMLTables(html string) ([]Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []Table
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}
		var t Table
		rows.First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			t.Header = append(t.Header, normalizeSpaces(cell.Text()))
		})
		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, normalizeSpaces(cell.Text()))
			})
			if !blankRow(cells) {
				t.Rows = append(t.Rows, cells)
			}
		})
		if len(t.Rows) > 0 {
			out = append(out, t)
		}
	})
	return out, nil
}

// Keyed turns rows into records keyed by header text.
func (t Table) Keyed() []Record {
	header := make([]string, len(t.Header))
	for i, h := range t.Header {
		header[i] = strings.TrimSpace(h)
	}
	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := Record{}
		for i, cell := range row {
			if i < len(header) && header[i] != "" {
				rec[header[i]] = cell
			}
		}
		out = append(out, rec)
	}
	return out
}

// Positional names cells by a fixed layout. Trailing blank header columns
// are trimmed from every row first, since several vendors pad their exports.
func (t Table) Positional(columns []string) []Record {
	blank := 0
	for i := len(t.Header) - 1; i >= 0 && strings.TrimSpace(t.Header[i]) == ""; i-- {
		blank++
	}
	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		if blank > 0 && len(row) >= blank && len(row) == len(t.Header) {
			row = row[:len(row)-blank]
		}
		rec := Record{widthKey: fmt.Sprint(len(row))}
		for i, cell := range row {
			if i < len(columns) {
				rec[columns[i]] = cell
			}
		}
		out = append(out, rec)
	}
	return out
}

// checkWidth rejects positional records that do not carry exactly the
// expected number of cells.
func checkWidth(rec Record, columns []string) error {
	want := fmt.Sprint(len(columns))
	if got := rec[widthKey]; got != want {
		return fmt.Errorf("%w: %s cells, want %s", ErrMalformedRecord, got, want)
	}
	return nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeSpaces(input string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(input, " "))
}

func yieldAll(records []Record, yield func(Record) error) error {
	for _, rec := range records {
		if err := yield(rec); err != nil {
			return err
		}
	}
	return nil
}
