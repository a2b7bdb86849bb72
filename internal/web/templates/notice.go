// Package templates renders the HTML fragments returned to HTMX callers.
// Components live in .templ files; partials_templ.go is generated from them.
package templates

//go:generate templ generate

import "github.com/JonMunkholm/drillplan/internal/importer"

// maxListedErrors caps the row errors shown in the notice.
const maxListedErrors = 20

// listedErrors returns the row errors the notice lists individually.
func listedErrors(errs []importer.RowError) []importer.RowError {
	if len(errs) > maxListedErrors {
		return errs[:maxListedErrors]
	}
	return errs
}

// hiddenErrors counts the row errors folded into the "and N more" line.
func hiddenErrors(errs []importer.RowError) int {
	return max(len(errs)-maxListedErrors, 0)
}
