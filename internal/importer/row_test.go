package importer

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func strPtr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		row     RawRow
		want    Candidate
		wantErr string
	}{
		{
			name: "all fields",
			row: RawRow{
				"Category":    " Ball Handling ",
				"Name":        "Cone Weave",
				"Minutes":     "10",
				"Notes":       "  keep eyes up ",
				"Media_Links": "https://example.com/v/1",
			},
			want: Candidate{
				Row:          1,
				CategoryName: "Ball Handling",
				Name:         "Cone Weave",
				Minutes:      10,
				Notes:        strPtr("keep eyes up"),
				MediaLinks:   strPtr("https://example.com/v/1"),
			},
		},
		{
			name: "optional fields blank become nil",
			row:  RawRow{"category": "A", "name": "B", "notes": "   ", "media links": nil},
			want: Candidate{Row: 1, CategoryName: "A", Name: "B"},
		},
		{
			name: "numeric name rendered as text",
			row:  RawRow{"category": "Numbers", "name": float64(42)},
			want: Candidate{Row: 1, CategoryName: "Numbers", Name: "42"},
		},
		{
			name: "hyphenated header",
			row:  RawRow{"category": "A", "name": "B", "media-links": "x"},
			want: Candidate{Row: 1, CategoryName: "A", Name: "B", MediaLinks: strPtr("x")},
		},
		{
			name:    "missing category",
			row:     RawRow{"name": "B"},
			wantErr: "Category and name are required",
		},
		{
			name:    "whitespace name",
			row:     RawRow{"category": "A", "name": "\t "},
			wantErr: "Category and name are required",
		},
		{
			name:    "nil values",
			row:     RawRow{"category": nil, "name": nil},
			wantErr: "Category and name are required",
		},
		{
			name:    "bad minutes",
			row:     RawRow{"category": "A", "name": "B", "minutes": "ten"},
			wantErr: `Minutes must be a non-negative number (got "ten")`,
		},
		{
			name:    "missing fields beat bad minutes",
			row:     RawRow{"category": "", "name": "B", "minutes": "-1"},
			wantErr: "Category and name are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rowErr := Normalize(tt.row, 1)
			if tt.wantErr != "" {
				if rowErr == nil {
					t.Fatalf("Normalize() = %+v, want error %q", got, tt.wantErr)
				}
				if rowErr.Error != tt.wantErr || rowErr.Row != 1 {
					t.Errorf("Normalize() error = %+v, want row 1 %q", rowErr, tt.wantErr)
				}
				return
			}
			if rowErr != nil {
				t.Fatalf("Normalize() unexpected error: %+v", rowErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_RowIndexPreserved(t *testing.T) {
	_, rowErr := Normalize(RawRow{}, 17)
	if rowErr == nil || rowErr.Row != 17 {
		t.Errorf("Normalize() error = %+v, want row 17", rowErr)
	}
	c, _ := Normalize(RawRow{"category": "A", "name": "B"}, 9)
	if c.Row != 9 {
		t.Errorf("Candidate.Row = %d, want 9", c.Row)
	}
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int
		wantErr bool
	}{
		{"nil", nil, 0, false},
		{"empty string", "", 0, false},
		{"blank string", "   ", 0, false},
		{"integer string", "15", 15, false},
		{"padded string", " 7 ", 7, false},
		{"zero", float64(0), 0, false},
		{"float64", float64(12), 12, false},
		{"fraction rounds up", "7.5", 8, false},
		{"fraction rounds down", float64(7.4), 7, false},
		{"int", 3, 3, false},
		{"int64", int64(90), 90, false},
		{"json number", json.Number("20"), 20, false},
		{"negative", "-1", 0, true},
		{"negative float", float64(-0.6), 0, true},
		{"text", "abc", 0, true},
		{"bool", true, 0, true},
		{"NaN", math.NaN(), 0, true},
		{"Inf", math.Inf(1), 0, true},
		{"NaN string", "NaN", 0, true},
		{"too large", float64(math.MaxInt32) + 1, 0, true},
		{"bad json number", json.Number("1e"), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMinutes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMinutes(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseMinutes(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Category", "category"},
		{"MEDIA_LINKS", "media links"},
		{"Media-Links", "media links"},
		{"  media   links ", "media links"},
		{"media__links", "media links"},
		{"mediaLinks", "media links"},
		{"MediaLinks", "media links"},
		{"MEDIA LINKS", "media links"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeHeader(tt.in); got != tt.want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Rows copied from the drill listing use its JSON keys.
func TestNormalize_ListingKeys(t *testing.T) {
	row := RawRow{"category": "A", "name": "B", "minutes": json.Number("5"), "notes": "n", "mediaLinks": "https://x"}

	got, rowErr := Normalize(row, 1)
	if rowErr != nil {
		t.Fatalf("Normalize() error = %+v", rowErr)
	}
	if got.MediaLinks == nil || *got.MediaLinks != "https://x" {
		t.Errorf("MediaLinks = %v, want https://x", got.MediaLinks)
	}
	if got.Notes == nil || *got.Notes != "n" || got.Minutes != 5 {
		t.Errorf("candidate = %+v", got)
	}
}

func TestRawRowFields_FirstKeyWins(t *testing.T) {
	// "Name" sorts before "name", so it wins.
	row := RawRow{"name": "lower", "Name": "Upper", "category": "A"}
	fields := row.fields()
	if got := fields[ColumnName]; got != "Upper" {
		t.Errorf("fields()[name] = %v, want %q", got, "Upper")
	}
	if len(fields) != 2 {
		t.Errorf("fields() has %d columns, want 2", len(fields))
	}
}

func TestTextValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  x ", "x"},
		{float64(1.5), "1.5"},
		{float64(10), "10"},
		{42, "42"},
		{int64(-3), "-3"},
		{true, "true"},
		{json.Number("3.25"), "3.25"},
		{[]int{1}, "[1]"},
	}
	for _, tt := range tests {
		if got := textValue(tt.in); got != tt.want {
			t.Errorf("textValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTemplateColumnsAreNormalized(t *testing.T) {
	for _, c := range TemplateColumns {
		if NormalizeHeader(c) != c || strings.TrimSpace(c) != c {
			t.Errorf("template column %q is not in normalized form", c)
		}
	}
}
