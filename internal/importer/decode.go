package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// utf8BOM is stripped from the start of CSV files saved by Excel.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// requiredColumns must appear in every file header.
var requiredColumns = []string{ColumnCategory, ColumnName}

// DecodeFile turns an uploaded CSV or XLSX file into rows keyed by
// normalized header name. The first non-blank line is the header; blank
// lines after it are dropped. maxSize <= 0 disables the size check.
//
// Decoding stops as soon as the file holds more than maxRows data rows, so
// an oversized file is rejected without materializing it. maxRows <= 0
// disables the cap.
func DecodeFile(name string, r io.Reader, maxSize int64, maxRows int) ([]RawRow, error) {
	data, err := readLimited(r, maxSize)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	c := &recordCollector{maxRows: maxRows}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt", "":
		err = decodeCSV(data, c)
	case ".xlsx", ".xlsm":
		err = decodeXLSX(data, c)
	case ".xls":
		return nil, fmt.Errorf("%w: legacy .xls workbooks cannot be read, save as .xlsx", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}

	return c.rows()
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// recordCollector keeps the header and non-blank data records, failing once
// the data records exceed maxRows.
type recordCollector struct {
	maxRows int
	header  []string
	records [][]string
}

func (c *recordCollector) add(rec []string) error {
	if isEmptyRow(rec) {
		return nil
	}
	if c.header == nil {
		c.header = rec
		return nil
	}
	if c.maxRows > 0 && len(c.records) >= c.maxRows {
		return fmt.Errorf("%w: file has more than %d rows", ErrTooManyRows, c.maxRows)
	}
	c.records = append(c.records, rec)
	return nil
}

func decodeCSV(data []byte, c *recordCollector) error {
	data = bytes.TrimPrefix(sanitizeUTF8(data), utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid csv: %w", err)
		}
		if err := c.add(rec); err != nil {
			return err
		}
	}
}

// decodeXLSX reads the first sheet of a workbook.
func decodeXLSX(data []byte, c *recordCollector) error {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ErrEmptyFile
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("invalid xlsx: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("invalid xlsx: %w", err)
		}
		if err := c.add(cols); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("invalid xlsx: %w", err)
	}
	return nil
}

// rows maps data records onto the header. Only recognised columns are
// kept; missing trailing cells are left absent.
func (c *recordCollector) rows() ([]RawRow, error) {
	if c.header == nil {
		return nil, ErrEmptyFile
	}

	header := makeHeaderIndex(c.header)
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	if len(c.records) == 0 {
		return nil, ErrEmptyFile
	}

	out := make([]RawRow, 0, len(c.records))
	for _, rec := range c.records {
		row := make(RawRow, len(header))
		for col, idx := range header {
			if idx < len(rec) {
				row[col] = rec[idx]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// makeHeaderIndex maps recognised column names to their position.
// The first occurrence of a repeated column wins.
func makeHeaderIndex(header []string) map[string]int {
	known := make(map[string]bool, len(TemplateColumns))
	for _, c := range TemplateColumns {
		known[c] = true
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := NormalizeHeader(cleanHeader(h))
		if !known[key] {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// cleanHeader removes spreadsheet artifacts from a header cell: surrounding
// whitespace, an Excel formula wrapper (="..."), and surrounding quotes.
func cleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.Trim(s, `"'`)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

// WriteTemplateCSV writes the header-only CSV import template.
func WriteTemplateCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TemplateColumns); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteTemplateXLSX writes the header-only workbook import template.
func WriteTemplateXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]any, len(TemplateColumns))
	for i, c := range TemplateColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("template style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(TemplateColumns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("template style: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}
