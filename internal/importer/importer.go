package importer

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/drillplan/internal/logging"
	"github.com/JonMunkholm/drillplan/internal/store"
)

// Store is the persistence the pipeline needs. store.Postgres and
// store.SQLite satisfy it.
type Store interface {
	ListCategories(ctx context.Context, ownerID string) ([]store.Category, error)
	CreateCategory(ctx context.Context, ownerID, name string) (store.Category, error)
	ListDrillNames(ctx context.Context, ownerID string) ([]string, error)
	InsertDrills(ctx context.Context, drills []store.NewDrill) ([]string, error)
	InsertDrillsEach(ctx context.Context, drills []store.NewDrill) ([]store.InsertOutcome, error)
}

// Policy selects how accepted drills are written.
type Policy string

const (
	// PolicyAtomic writes the batch in one all-or-nothing insert. On failure
	// every accepted row is reported as an error.
	PolicyAtomic Policy = "atomic"

	// PolicyPerRow writes each drill independently; failures affect only
	// their own row.
	PolicyPerRow Policy = "per_row"
)

// ParsePolicy converts a configuration or request value to a Policy.
// An empty value selects PolicyPerRow.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPerRow:
		return PolicyPerRow, nil
	case PolicyAtomic:
		return PolicyAtomic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Options tune a single run.
type Options struct {
	Policy Policy

	// DryRun reports what would happen without creating categories or drills.
	DryRun bool

	// ParallelThreshold is the row count at which normalization is spread
	// across goroutines. Zero keeps it sequential.
	ParallelThreshold int
}

// accepted is a candidate that passed every check and awaits persistence.
type accepted struct {
	row   int
	drill store.NewDrill
}

// Run imports rows for owner and reports the outcome of every row.
//
// Rows are processed in order: normalize, resolve the category, skip
// duplicates, accept. Row-level problems never stop the run. The returned
// error is non-nil only when the run could not start, in which case no
// ImportResult is produced and nothing was written.
func Run(ctx context.Context, st Store, owner string, rows []RawRow, opts Options) (*ImportResult, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyPerRow
	}
	if policy != PolicyAtomic && policy != PolicyPerRow {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}

	names, err := st.ListDrillNames(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load existing drills: %w", err)
	}

	logger := logging.FromContext(ctx)
	result := newImportResult(len(rows), opts.DryRun)
	resolver := newCategoryResolver(st, owner, opts.DryRun)
	filter := newDuplicateFilter(names)

	var batch []accepted
	for _, n := range normalizeAll(rows, opts.ParallelThreshold) {
		if n.err != nil {
			logger.Debug("row rejected", "row", n.err.Row, "reason", n.err.Error)
			result.addError(n.err.Row, n.err.Error)
			continue
		}
		c := n.candidate

		categoryID, err := resolver.resolve(ctx, c.CategoryName)
		if err != nil {
			logger.Debug("category resolution failed", "row", c.Row, "category", c.CategoryName, "error", err)
			result.addError(c.Row, persistErrorText(fmt.Sprintf("Could not resolve category %q", c.CategoryName), err))
			continue
		}

		if filter.isDuplicate(c.Name) {
			result.Skipped++
			continue
		}
		filter.accept(c.Name)

		batch = append(batch, accepted{
			row: c.Row,
			drill: store.NewDrill{
				OwnerID:    owner,
				CategoryID: categoryID,
				Name:       c.Name,
				Minutes:    c.Minutes,
				Notes:      c.Notes,
				MediaLinks: c.MediaLinks,
			},
		})
	}

	if opts.DryRun {
		result.Imported = len(batch)
	} else {
		persist(ctx, st, policy, batch, result)
	}

	result.finish()
	return result, nil
}

// persist writes the batch under policy and records per-row outcomes.
func persist(ctx context.Context, st Store, policy Policy, batch []accepted, result *ImportResult) {
	if len(batch) == 0 {
		return
	}

	drills := make([]store.NewDrill, len(batch))
	for i, a := range batch {
		drills[i] = a.drill
	}

	logger := logging.FromContext(ctx)

	if policy == PolicyAtomic {
		if _, err := st.InsertDrills(ctx, drills); err != nil {
			logger.Warn("atomic insert failed", "rows", len(batch), "error", err)
			msg := persistErrorText("Could not save drill", err)
			for _, a := range batch {
				result.addError(a.row, msg)
			}
			return
		}
		result.Imported = len(batch)
		return
	}

	outcomes, err := st.InsertDrillsEach(ctx, drills)
	if err != nil {
		logger.Warn("per-row insert transaction failed", "rows", len(batch), "error", err)
		msg := persistErrorText("Could not save drill", err)
		for _, a := range batch {
			result.addError(a.row, msg)
		}
		return
	}
	for i, a := range batch {
		if i >= len(outcomes) {
			result.addError(a.row, persistErrorText("Could not save drill", fmt.Errorf("no insert outcome for row %d", a.row)))
			continue
		}
		if outcomes[i].Err != nil {
			logger.Debug("drill insert failed", "row", a.row, "error", outcomes[i].Err)
			result.addError(a.row, persistErrorText("Could not save drill", outcomes[i].Err))
			continue
		}
		result.Imported++
	}
}

// normalized is the outcome of Normalize for one row.
type normalized struct {
	candidate Candidate
	err       *RowError
}

// normalizeAll normalizes rows in input order. At or above threshold rows
// the work is split across GOMAXPROCS goroutines; Normalize is pure, so the
// result is identical either way.
func normalizeAll(rows []RawRow, threshold int) []normalized {
	out := make([]normalized, len(rows))
	normalizeRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			c, rowErr := Normalize(rows[i], i+1)
			out[i] = normalized{candidate: c, err: rowErr}
		}
	}

	workers := runtime.GOMAXPROCS(0)
	if threshold <= 0 || len(rows) < threshold || workers < 2 {
		normalizeRange(0, len(rows))
		return out
	}

	chunk := (len(rows) + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < len(rows); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(rows))
		g.Go(func() error {
			normalizeRange(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
