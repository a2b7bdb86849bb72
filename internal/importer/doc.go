// Package importer turns spreadsheet rows into drills.
//
// # Pipeline
//
// A run processes rows strictly in input order:
//
//  1. Normalize validates one row into a Candidate or a RowError.
//  2. The category resolver maps the candidate's category name to one of
//     the owner's categories, creating it on first use. Names compare
//     trimmed and case-insensitively. A creation that loses a race to
//     another writer (store.ErrUniqueViolation) re-reads the owner's
//     categories and uses the winner.
//  3. The duplicate filter skips names already in the owner's library or
//     accepted earlier in the run. The first occurrence wins.
//  4. Accepted drills are written in one batch, under PolicyAtomic or
//     PolicyPerRow.
//
// Every row ends in exactly one of imported, skipped, or errored, so
// Imported + Skipped + len(Errors) == TotalRows. Validation errors take
// precedence over duplicate detection.
//
// # Failures
//
// Row problems (missing fields, bad minutes, category or insert failures)
// are reported per row and never abort the run. Run returns an error only
// when it cannot start: no owner, an unknown policy, or the owner's
// existing drill names cannot be loaded.
//
// # Service
//
// Service adds what the HTTP and CLI entry points share: file decoding
// (CSV and XLSX), a concurrency limit, a per-import timeout, a row cap,
// and best-effort import history.
package importer
