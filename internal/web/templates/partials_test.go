package templates

import (
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/drillplan/internal/importer"
)

func TestImportNotice(t *testing.T) {
	result := &importer.ImportResult{
		Success: false,
		Message: "Imported 2 drills, skipped 1 duplicate. Rows 3 and 4 failed.",
		Errors: []importer.RowError{
			{Row: 3, Error: "Category and name are required"},
			{Row: 4, Error: `Minutes must be a non-negative number (got "<b>")`},
		},
	}

	var b strings.Builder
	if err := ImportNotice(result).Render(context.Background(), &b); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	html := b.String()

	for _, want := range []string{"notice-warning", "Rows 3 and 4 failed", "Row 3", "Row 4", "data-dismissible"} {
		if !strings.Contains(html, want) {
			t.Errorf("notice missing %q:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<b>") {
		t.Errorf("row error not escaped:\n%s", html)
	}
}

func TestImportNotice_SuccessHasNoList(t *testing.T) {
	var b strings.Builder
	err := ImportNotice(&importer.ImportResult{Success: true, Message: "Imported 1 drill."}).Render(context.Background(), &b)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "notice-success") || strings.Contains(b.String(), "<ul") {
		t.Errorf("unexpected success notice:\n%s", b.String())
	}
}

func TestImportNotice_TruncatesLongErrorLists(t *testing.T) {
	result := &importer.ImportResult{Message: "x"}
	for i := 1; i <= maxListedErrors+5; i++ {
		result.Errors = append(result.Errors, importer.RowError{Row: i, Error: "bad"})
	}

	var b strings.Builder
	if err := ImportNotice(result).Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(b.String(), "<li>"); got != maxListedErrors+1 {
		t.Errorf("list items = %d, want %d", got, maxListedErrors+1)
	}
	if !strings.Contains(b.String(), "and 5 more") {
		t.Errorf("missing overflow line:\n%s", b.String())
	}
}

func TestErrorAlert(t *testing.T) {
	var b strings.Builder
	if err := ErrorAlert("File too large", "Split it", "FILE001").Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`role="alert"`, "File too large", "Split it", "Code: FILE001"} {
		if !strings.Contains(b.String(), want) {
			t.Errorf("alert missing %q:\n%s", want, b.String())
		}
	}
}

func TestErrorAlert_OmitsEmptyParts(t *testing.T) {
	var b strings.Builder
	if err := ErrorAlert("Upload failed", "", "").Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	want := `<div class="alert alert-error" role="alert"><p class="alert-message">Upload failed</p></div>`
	if b.String() != want {
		t.Errorf("ErrorAlert() =\n%s\nwant\n%s", b.String(), want)
	}
}

func TestListedErrors(t *testing.T) {
	rows := func(n int) []importer.RowError {
		errs := make([]importer.RowError, n)
		for i := range errs {
			errs[i] = importer.RowError{Row: i + 2}
		}
		return errs
	}

	tests := []struct {
		name       string
		n          int
		wantListed int
		wantHidden int
	}{
		{"none", 0, 0, 0},
		{"under cap", 3, 3, 0},
		{"at cap", maxListedErrors, maxListedErrors, 0},
		{"over cap", maxListedErrors + 1, maxListedErrors, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := rows(tt.n)
			if got := len(listedErrors(errs)); got != tt.wantListed {
				t.Errorf("listedErrors() = %d rows, want %d", got, tt.wantListed)
			}
			if got := hiddenErrors(errs); got != tt.wantHidden {
				t.Errorf("hiddenErrors() = %d, want %d", got, tt.wantHidden)
			}
		})
	}
}
