package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// CSV
// =============================================================================

func TestDecodeFile_CSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []RawRow
		wantErr error
	}{
		{
			name:  "basic",
			input: "category,name,minutes\nShooting,Form Shooting,10\n",
			want:  []RawRow{{"category": "Shooting", "name": "Form Shooting", "minutes": "10"}},
		},
		{
			name:  "BOM and mixed-case headers",
			input: "\xEF\xBB\xBFCategory,Name,Media_Links,Notes\nA,B,http://x,n\n",
			want:  []RawRow{{"category": "A", "name": "B", "media links": "http://x", "notes": "n"}},
		},
		{
			name:  "unknown columns dropped",
			input: "category,name,coach\nA,B,Sam\n",
			want:  []RawRow{{"category": "A", "name": "B"}},
		},
		{
			name:  "blank rows dropped",
			input: "\n\ncategory,name\n\nA,One\n , \nA,Two\n",
			want: []RawRow{
				{"category": "A", "name": "One"},
				{"category": "A", "name": "Two"},
			},
		},
		{
			name:  "short rows leave columns absent",
			input: "category,name,minutes\nA,B\n",
			want:  []RawRow{{"category": "A", "name": "B"}},
		},
		{
			name:  "excel formula header",
			input: "=\"category\",name\nA,B\n",
			want:  []RawRow{{"category": "A", "name": "B"}},
		},
		{
			name:    "missing name column",
			input:   "category,minutes\nA,10\n",
			wantErr: ErrMissingColumn,
		},
		{
			name:    "header only",
			input:   "category,name\n",
			wantErr: ErrEmptyFile,
		},
		{
			name:    "whitespace only",
			input:   " \n\n",
			wantErr: ErrEmptyFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFile("drills.csv", strings.NewReader(tt.input), 0, 0)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeFile() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFile() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeFile() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeFile_CSVInvalidUTF8(t *testing.T) {
	input := "category,name\nA,Caf\xe9\n"
	got, err := DecodeFile("drills.csv", strings.NewReader(input), 0, 0)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if name := got[0]["name"]; name != "Caf\uFFFD" {
		t.Errorf("name = %q, want replacement character", name)
	}
}

func TestDecodeFile_MissingColumnsListed(t *testing.T) {
	_, err := DecodeFile("drills.csv", strings.NewReader("minutes\n1\n"), 0, 0)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("error = %v, want ErrMissingColumn", err)
	}
	if !strings.Contains(err.Error(), "category, name") {
		t.Errorf("error = %q, want both columns named", err)
	}
}

func TestDecodeFile_SizeLimit(t *testing.T) {
	input := "category,name\nA,B\n"

	if _, err := DecodeFile("d.csv", strings.NewReader(input), int64(len(input)), 0); err != nil {
		t.Errorf("file at the limit: error = %v", err)
	}
	if _, err := DecodeFile("d.csv", strings.NewReader(input), int64(len(input)-1), 0); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("file over the limit: error = %v, want ErrFileTooLarge", err)
	}
}

func TestDecodeFile_RowCap(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxRows int
		wantErr error
		want    int
	}{
		{"under the cap", "category,name\nA,1\nA,2\n", 3, nil, 2},
		{"at the cap", "category,name\nA,1\nA,2\nA,3\n", 3, nil, 3},
		{"over the cap", "category,name\nA,1\nA,2\nA,3\nA,4\n", 3, ErrTooManyRows, 0},
		{"blank lines do not count", "\ncategory,name\nA,1\n\n,\nA,2\n", 2, nil, 2},
		{"zero disables", "category,name\nA,1\nA,2\n", 0, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFile("drills.csv", strings.NewReader(tt.input), 0, tt.maxRows)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeFile() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFile() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("DecodeFile() = %d rows, want %d", len(got), tt.want)
			}
		})
	}
}

// A large file over the cap stops decoding at the cap instead of building
// every row first.
func TestDecodeCSV_StopsAtRowCap(t *testing.T) {
	const maxRows = 100
	input := "category,name\n" + strings.Repeat("a,b\n", 50_000)

	c := &recordCollector{maxRows: maxRows}
	err := decodeCSV([]byte(input), c)
	if !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("decodeCSV() error = %v, want ErrTooManyRows", err)
	}
	if len(c.records) != maxRows {
		t.Errorf("collected %d records, want %d", len(c.records), maxRows)
	}
	if got := MapError(err).Code; got != "FILE007" {
		t.Errorf("MapError code = %s, want FILE007", got)
	}
}

func TestDecodeXLSX_StopsAtRowCap(t *testing.T) {
	rows := [][]any{{"category", "name"}}
	for i := 0; i < 20; i++ {
		rows = append(rows, []any{"A", i})
	}
	data := buildWorkbook(t, rows)

	c := &recordCollector{maxRows: 5}
	if err := decodeXLSX(data, c); !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("decodeXLSX() error = %v, want ErrTooManyRows", err)
	}
	if len(c.records) != 5 {
		t.Errorf("collected %d records, want 5", len(c.records))
	}
}

func TestDecodeFile_Formats(t *testing.T) {
	tests := []struct {
		filename string
		wantErr  error
	}{
		{"drills.CSV", nil},
		{"drills.txt", nil},
		{"drills", nil},
		{"drills.xls", ErrUnsupportedFormat},
		{"drills.pdf", ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			_, err := DecodeFile(tt.filename, strings.NewReader("category,name\nA,B\n"), 0, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeFile(%q) error = %v, want %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// XLSX
// =============================================================================

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeFile_XLSX(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"Category", "Name", "Minutes", "Media Links"},
		{"Shooting", "Form Shooting", 10, "http://x"},
		{},
		{"shooting", "Free Throws"},
	})

	got, err := DecodeFile("drills.xlsx", bytes.NewReader(data), 0, 0)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	want := []RawRow{
		{"category": "Shooting", "name": "Form Shooting", "minutes": "10", "media links": "http://x"},
		{"category": "shooting", "name": "Free Throws"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeFile() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeFile_XLSXCorrupt(t *testing.T) {
	_, err := DecodeFile("drills.xlsx", strings.NewReader("not a zip archive"), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "invalid xlsx") {
		t.Fatalf("DecodeFile() error = %v, want invalid xlsx", err)
	}
	if got := MapError(err).Code; got != "FILE002" {
		t.Errorf("MapError code = %s, want FILE002", got)
	}
}

// =============================================================================
// Templates
// =============================================================================

func TestWriteTemplateCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplateCSV(&buf); err != nil {
		t.Fatalf("WriteTemplateCSV() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("template is not valid CSV: %v", err)
	}
	if diff := cmp.Diff([][]string{TemplateColumns}, records); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteTemplateXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplateXLSX(&buf); err != nil {
		t.Fatalf("WriteTemplateXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("template is not a workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if diff := cmp.Diff([][]string{TemplateColumns}, rows); diff != "" {
		t.Errorf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplateRoundTripsThroughDecoder(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplateCSV(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("Passing,Outlet Pass,5,,\n")

	rows, err := DecodeFile("template.csv", &buf, 0, 0)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if len(rows) != 1 || rows[0][ColumnName] != "Outlet Pass" {
		t.Errorf("rows = %v", rows)
	}
}
