package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Column names recognised in a RawRow, after header normalization.
const (
	ColumnCategory   = "category"
	ColumnName       = "name"
	ColumnMinutes    = "minutes"
	ColumnNotes      = "notes"
	ColumnMediaLinks = "media links"
)

// TemplateColumns is the header row of the downloadable import template.
var TemplateColumns = []string{ColumnCategory, ColumnName, ColumnMinutes, ColumnNotes, ColumnMediaLinks}

// msgRequired is the row error for a missing category or name.
const msgRequired = "Category and name are required"

var errInvalidMinutes = errors.New("minutes must be a non-negative number")

// RawRow is one decoded spreadsheet or JSON row. Keys are matched
// case-insensitively, with underscores and repeated spaces folded, so
// "Media_Links" and "media links" name the same column. Values may be
// strings, numbers, or nil.
type RawRow map[string]any

// Candidate is a validated drill that has not been persisted yet.
type Candidate struct {
	Row          int
	CategoryName string
	Name         string
	Minutes      int
	Notes        *string
	MediaLinks   *string
}

// RowError ties a failure to a 1-based input row.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Normalize validates one raw row. index is the 1-based row number used in
// error reports. Exactly one of the returned values is meaningful: the
// candidate when the error is nil, otherwise the error.
func Normalize(row RawRow, index int) (Candidate, *RowError) {
	fields := row.fields()

	category := textValue(fields[ColumnCategory])
	name := textValue(fields[ColumnName])
	if category == "" || name == "" {
		return Candidate{}, &RowError{Row: index, Error: msgRequired}
	}

	minutes, err := parseMinutes(fields[ColumnMinutes])
	if err != nil {
		return Candidate{}, &RowError{
			Row:   index,
			Error: fmt.Sprintf("Minutes must be a non-negative number (got %q)", textValue(fields[ColumnMinutes])),
		}
	}

	return Candidate{
		Row:          index,
		CategoryName: category,
		Name:         name,
		Minutes:      minutes,
		Notes:        optionalText(fields[ColumnNotes]),
		MediaLinks:   optionalText(fields[ColumnMediaLinks]),
	}, nil
}

// fields returns the row keyed by normalized column name. When two keys
// normalize to the same column, the lexically first key wins.
func (r RawRow) fields() map[string]any {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(r))
	for _, k := range keys {
		col := NormalizeHeader(k)
		if _, dup := out[col]; dup {
			continue
		}
		out[col] = r[k]
	}
	return out
}

// NormalizeHeader lowercases a column name, splits camelCase words, treats
// underscores and hyphens as spaces, and collapses runs of whitespace, so
// "mediaLinks", "Media_Links" and "media links" name the same column.
func NormalizeHeader(h string) string {
	var b strings.Builder
	b.Grow(len(h) + 2)
	var prev rune
	for _, r := range h {
		if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	h = strings.ToLower(b.String())
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// textValue renders a raw cell as trimmed text. nil yields "".
func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func optionalText(v any) *string {
	s := textValue(v)
	if s == "" {
		return nil
	}
	return &s
}

// parseMinutes accepts nil, numbers, and numeric strings. Absent and blank
// values are 0; fractions round to the nearest minute.
func parseMinutes(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errInvalidMinutes
		}
		f = parsed
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, errInvalidMinutes
		}
		f = parsed
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	default:
		return 0, errInvalidMinutes
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, errInvalidMinutes
	}
	rounded := math.Round(f)
	if rounded > math.MaxInt32 {
		return 0, errInvalidMinutes
	}
	return int(rounded), nil
}
