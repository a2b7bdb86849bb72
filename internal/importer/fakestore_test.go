package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/drillplan/internal/store"
)

// fakeStore is an in-memory ServiceStore that enforces the same per-owner
// name uniqueness as the real backends and lets tests inject failures.
type fakeStore struct {
	mu sync.Mutex

	categories []store.Category
	drills     []store.Drill
	runs       []store.ImportRun
	nextID     int

	listNamesErr      error
	listCategoriesErr error
	createCategoryErr map[string]error // by store.NameKey
	insertErr         error            // InsertDrills
	insertEachErr     error            // InsertDrillsEach whole-call
	failDrill         map[string]error // by drill name, per-row only
	recordErr         error

	// beforeCreateCategory runs before uniqueness is checked; tests use it
	// to simulate a concurrent writer.
	beforeCreateCategory func(owner, name string)

	createCategoryCalls int
	listCategoriesCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		createCategoryErr: make(map[string]error),
		failDrill:         make(map[string]error),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// addCategory inserts a category directly, bypassing failure injection.
func (f *fakeStore) addCategory(owner, name string) store.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := store.Category{ID: f.id("cat"), OwnerID: owner, Name: name, CreatedAt: time.Now()}
	f.categories = append(f.categories, c)
	return c
}

// addDrill inserts a drill directly, bypassing failure injection.
func (f *fakeStore) addDrill(owner, categoryID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drills = append(f.drills, store.Drill{ID: f.id("drill"), OwnerID: owner, CategoryID: categoryID, Name: name})
}

func (f *fakeStore) ListCategories(_ context.Context, owner string) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCategoriesCalls++
	if f.listCategoriesErr != nil {
		return nil, f.listCategoriesErr
	}
	var out []store.Category
	for _, c := range f.categories {
		if c.OwnerID == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCategory(_ context.Context, owner, name string) (store.Category, error) {
	if f.beforeCreateCategory != nil {
		f.beforeCreateCategory(owner, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCategoryCalls++
	if err := f.createCategoryErr[store.NameKey(name)]; err != nil {
		return store.Category{}, err
	}
	for _, c := range f.categories {
		if c.OwnerID == owner && store.NameKey(c.Name) == store.NameKey(name) {
			return store.Category{}, &store.ConstraintError{Constraint: "categories_owner_name_key", Err: errors.New("duplicate")}
		}
	}
	c := store.Category{ID: f.id("cat"), OwnerID: owner, Name: name, CreatedAt: time.Now()}
	f.categories = append(f.categories, c)
	return c, nil
}

func (f *fakeStore) ListDrillNames(_ context.Context, owner string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listNamesErr != nil {
		return nil, f.listNamesErr
	}
	var names []string
	for _, d := range f.drills {
		if d.OwnerID == owner {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// checkDrill validates d against stored drills plus pending; caller holds mu.
func (f *fakeStore) checkDrill(d store.NewDrill, pending []store.Drill) error {
	owned := false
	for _, c := range f.categories {
		if c.ID == d.CategoryID && c.OwnerID == d.OwnerID {
			owned = true
			break
		}
	}
	if !owned {
		return errors.New("violates foreign key constraint drills_category_owner_fkey")
	}
	for _, existing := range append(f.drills[:len(f.drills):len(f.drills)], pending...) {
		if existing.OwnerID == d.OwnerID && store.NameKey(existing.Name) == store.NameKey(d.Name) {
			return &store.ConstraintError{Constraint: "drills_owner_name_key", Err: errors.New("duplicate")}
		}
	}
	return nil
}

func (f *fakeStore) InsertDrills(_ context.Context, drills []store.NewDrill) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	var pending []store.Drill
	for _, d := range drills {
		if err := f.checkDrill(d, pending); err != nil {
			return nil, err
		}
		pending = append(pending, toDrill(f.id("drill"), d))
	}
	f.drills = append(f.drills, pending...)
	ids := make([]string, len(pending))
	for i, d := range pending {
		ids[i] = d.ID
	}
	return ids, nil
}

func (f *fakeStore) InsertDrillsEach(_ context.Context, drills []store.NewDrill) ([]store.InsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertEachErr != nil {
		return nil, f.insertEachErr
	}
	outcomes := make([]store.InsertOutcome, len(drills))
	for i, d := range drills {
		if err := f.failDrill[d.Name]; err != nil {
			outcomes[i] = store.InsertOutcome{Err: err}
			continue
		}
		if err := f.checkDrill(d, nil); err != nil {
			outcomes[i] = store.InsertOutcome{Err: err}
			continue
		}
		drill := toDrill(f.id("drill"), d)
		f.drills = append(f.drills, drill)
		outcomes[i] = store.InsertOutcome{ID: drill.ID}
	}
	return outcomes, nil
}

func toDrill(id string, d store.NewDrill) store.Drill {
	return store.Drill{
		ID:         id,
		OwnerID:    d.OwnerID,
		CategoryID: d.CategoryID,
		Name:       d.Name,
		Minutes:    d.Minutes,
		Notes:      d.Notes,
		MediaLinks: d.MediaLinks,
	}
}

func (f *fakeStore) RecordImportRun(_ context.Context, run store.ImportRun) (store.ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return store.ImportRun{}, f.recordErr
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeStore) ListImportRuns(_ context.Context, owner string, limit int) ([]store.ImportRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ImportRun
	for _, r := range f.runs {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// drillsFor returns the owner's stored drills.
func (f *fakeStore) drillsFor(owner string) []store.Drill {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Drill
	for _, d := range f.drills {
		if d.OwnerID == owner {
			out = append(out, d)
		}
	}
	return out
}

// categoriesFor returns the owner's stored categories.
func (f *fakeStore) categoriesFor(owner string) []store.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Category
	for _, c := range f.categories {
		if c.OwnerID == owner {
			out = append(out, c)
		}
	}
	return out
}

var _ ServiceStore = (*fakeStore)(nil)
