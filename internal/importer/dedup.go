package importer

import "github.com/JonMunkholm/drillplan/internal/store"

// duplicateFilter decides whether a drill name is new for the owner.
// Names compare by store.NameKey against the owner's library and against
// names accepted earlier in the same run; the first occurrence wins.
type duplicateFilter struct {
	existing map[string]struct{}
	seen     map[string]struct{}
}

func newDuplicateFilter(existingNames []string) *duplicateFilter {
	existing := make(map[string]struct{}, len(existingNames))
	for _, n := range existingNames {
		existing[store.NameKey(n)] = struct{}{}
	}
	return &duplicateFilter{
		existing: existing,
		seen:     make(map[string]struct{}),
	}
}

// isDuplicate reports whether name is already in the library or was
// accepted earlier in this run.
func (f *duplicateFilter) isDuplicate(name string) bool {
	key := store.NameKey(name)
	if _, ok := f.existing[key]; ok {
		return true
	}
	_, ok := f.seen[key]
	return ok
}

// accept registers name so later rows with the same name are skipped.
func (f *duplicateFilter) accept(name string) {
	f.seen[store.NameKey(name)] = struct{}{}
}
