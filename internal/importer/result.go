package importer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxRowsInMessage caps how many failed row numbers the summary lists.
const maxRowsInMessage = 10

// ImportResult is the per-run outcome report. Every input row is counted
// exactly once: Imported + Skipped + len(Errors) == TotalRows.
type ImportResult struct {
	Success   bool       `json:"success"`
	TotalRows int        `json:"totalRows"`
	Imported  int        `json:"imported"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors"`
	Message   string     `json:"message,omitempty"`
	DryRun    bool       `json:"dryRun,omitempty"`
}

func newImportResult(totalRows int, dryRun bool) *ImportResult {
	return &ImportResult{
		TotalRows: totalRows,
		Errors:    []RowError{},
		DryRun:    dryRun,
	}
}

func (r *ImportResult) addError(row int, msg string) {
	r.Errors = append(r.Errors, RowError{Row: row, Error: msg})
}

// Failed returns the number of rows that errored.
func (r *ImportResult) Failed() int {
	return len(r.Errors)
}

// finish orders errors by row, sets Success, and writes the summary.
func (r *ImportResult) finish() {
	sort.SliceStable(r.Errors, func(i, j int) bool {
		return r.Errors[i].Row < r.Errors[j].Row
	})
	r.Success = len(r.Errors) == 0
	r.Message = r.summary()
}

// summary renders e.g. "Imported 2 drills, skipped 1 duplicate. Rows 3 and 4 failed."
func (r *ImportResult) summary() string {
	var b strings.Builder
	verb := "Imported"
	if r.DryRun {
		verb = "Would import"
	}
	fmt.Fprintf(&b, "%s %d %s", verb, r.Imported, plural(r.Imported, "drill", "drills"))
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", skipped %d %s", r.Skipped, plural(r.Skipped, "duplicate", "duplicates"))
	}
	b.WriteString(".")

	switch n := len(r.Errors); {
	case n == 1:
		fmt.Fprintf(&b, " Row %d failed.", r.Errors[0].Row)
	case n > 1:
		fmt.Fprintf(&b, " Rows %s failed.", joinRows(r.Errors))
	}
	return b.String()
}

func joinRows(errs []RowError) string {
	shown := len(errs)
	if shown > maxRowsInMessage {
		shown = maxRowsInMessage
	}
	rows := make([]string, shown)
	for i := 0; i < shown; i++ {
		rows[i] = strconv.Itoa(errs[i].Row)
	}
	if rest := len(errs) - shown; rest > 0 {
		return strings.Join(rows, ", ") + fmt.Sprintf(" and %d more", rest)
	}
	return strings.Join(rows[:shown-1], ", ") + " and " + rows[shown-1]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
