package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/drillplan/internal/store"
)

// resolution is the cached outcome of resolving one category name.
type resolution struct {
	id  string
	err error
}

// categoryResolver maps category names to the owner's category ids,
// creating categories on first use. One resolver serves one import run;
// its cache is never shared between runs.
type categoryResolver struct {
	store  Store
	owner  string
	dryRun bool

	cache    map[string]resolution     // NameKey -> outcome for this run
	existing map[string]store.Category // NameKey -> owner's categories
	loaded   bool
}

func newCategoryResolver(st Store, owner string, dryRun bool) *categoryResolver {
	return &categoryResolver{
		store:  st,
		owner:  owner,
		dryRun: dryRun,
		cache:  make(map[string]resolution),
	}
}

// resolve returns the id of the category named name. A failed lookup or
// creation is remembered, so later rows naming the same category fail the
// same way without another round trip. In dry-run mode a missing category
// resolves to "" without being created.
func (r *categoryResolver) resolve(ctx context.Context, name string) (string, error) {
	key := store.NameKey(name)
	if res, ok := r.cache[key]; ok {
		return res.id, res.err
	}

	id, err := r.lookupOrCreate(ctx, name, key)
	r.cache[key] = resolution{id: id, err: err}
	return id, err
}

func (r *categoryResolver) lookupOrCreate(ctx context.Context, name, key string) (string, error) {
	if !r.loaded {
		if err := r.load(ctx); err != nil {
			return "", err
		}
	}
	if c, ok := r.existing[key]; ok {
		return c.ID, nil
	}
	if r.dryRun {
		return "", nil
	}

	created, err := r.store.CreateCategory(ctx, r.owner, name)
	if err == nil {
		r.existing[key] = created
		return created.ID, nil
	}
	if !errors.Is(err, store.ErrUniqueViolation) {
		return "", fmt.Errorf("create category %q: %w", name, err)
	}

	// Another writer created it first; use theirs.
	if loadErr := r.load(ctx); loadErr != nil {
		return "", loadErr
	}
	if c, ok := r.existing[key]; ok {
		return c.ID, nil
	}
	return "", fmt.Errorf("create category %q: %w", name, err)
}

// load replaces the known categories with the owner's current set.
func (r *categoryResolver) load(ctx context.Context) error {
	cats, err := r.store.ListCategories(ctx, r.owner)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	existing := make(map[string]store.Category, len(cats))
	for _, c := range cats {
		key := store.NameKey(c.Name)
		if _, dup := existing[key]; !dup {
			existing[key] = c
		}
	}
	r.existing = existing
	r.loaded = true
	return nil
}
