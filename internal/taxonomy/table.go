// Package taxonomy holds the controlled vocabularies (towns, categories) and
// matches free-text tokens against them.
package taxonomy

import (
	"turismo/internal/domain"
	"turismo/internal/keys"
)

// Table is an immutable, declaration-ordered list of entries with their
// normalized match forms precomputed.
type Table struct {
	entries []domain.TaxonomyEntry
	forms   [][]string
	byID    map[string]int
}

// NewTable copies entries; the caller's slice is never retained.
func NewTable(entries []domain.TaxonomyEntry) *Table {
	t := &Table{
		entries: make([]domain.TaxonomyEntry, len(entries)),
		forms:   make([][]string, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		e.Aliases = append([]string(nil), e.Aliases...)
		t.entries[i] = e
		forms := make([]string, 0, len(e.Aliases)+1)
		if n := keys.Normalize(e.ID); n != "" {
			forms = append(forms, n)
		}
		for _, a := range e.Aliases {
			if n := keys.Normalize(a); n != "" {
				forms = append(forms, n)
			}
		}
		t.forms[i] = forms
		if _, dup := t.byID[e.ID]; !dup {
			t.byID[e.ID] = i
		}
	}
	return t
}

// Match returns the id of the first entry, in declaration order, whose id or
// any alias normalizes to the same form as token. Overlapping aliases
// resolve to the earliest entry.
func (t *Table) Match(token string) (string, bool) {
	if t == nil {
		return "", false
	}
	n := keys.Normalize(token)
	if n == "" {
		return "", false
	}
	for i, forms := range t.forms {
		for _, f := range forms {
			if f == n {
				return t.entries[i].ID, true
			}
		}
	}
	return "", false
}

// Lookup returns the entry registered under id.
func (t *Table) Lookup(id string) (domain.TaxonomyEntry, bool) {
	if t == nil {
		return domain.TaxonomyEntry{}, false
	}
	i, ok := t.byID[id]
	if !ok {
		return domain.TaxonomyEntry{}, false
	}
	return t.entries[i], true
}

// Label is the display name for id, falling back to id itself.
func (t *Table) Label(id string) string {
	if e, ok := t.Lookup(id); ok && e.DisplayName != "" {
		return e.DisplayName
	}
	return id
}

// Entries returns a copy of the entries in declaration order.
func (t *Table) Entries() []domain.TaxonomyEntry {
	if t == nil {
		return nil
	}
	out := make([]domain.TaxonomyEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Overlaps reports normalized forms claimed by more than one entry. Match
// still resolves them by declaration order; this only surfaces the ambiguity.
func (t *Table) Overlaps() map[string][]string {
	if t == nil {
		return nil
	}
	owners := map[string][]string{}
	for i, forms := range t.forms {
		seen := map[string]bool{}
		for _, f := range forms {
			if seen[f] {
				continue
			}
			seen[f] = true
			owners[f] = append(owners[f], t.entries[i].ID)
		}
	}
	out := map[string][]string{}
	for f, ids := range owners {
		if len(ids) > 1 {
			out[f] = ids
		}
	}
	return out
}

// Set holds both tables.
type Set struct {
	Towns      *Table
	Categories *Table
}

// For returns the table a scope type's ids live in.
func (s Set) For(scope domain.ScopeType) *Table {
	switch scope {
	case domain.ScopeTown:
		return s.Towns
	case domain.ScopeCategory:
		return s.Categories
	default:
		return nil
	}
}

// Children returns the table that children of a scope are matched against.
func (s Set) Children(scope domain.ScopeType) *Table {
	return s.For(scope.Opposite())
}
