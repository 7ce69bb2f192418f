// Package catalog loads the authoritative endpoint list and indexes it for
// matching.
package catalog

import (
	"fmt"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/normalize"
)

type indexKey struct {
	method endpoint.Method
	path   string
}

// Index is the canonical list keyed by (method, normalized path). It is
// built once and never mutated, so concurrent readers need no locking.
type Index struct {
	source     string
	entries    []endpoint.Canonical
	exact      map[indexKey]int
	structural map[string][]int
}

// NewIndex indexes entries in their declared order. A repeated
// (method, normalized path) pair is a load error.
func NewIndex(source string, entries []endpoint.Canonical) (*Index, error) {
	ix := &Index{
		source:     source,
		entries:    make([]endpoint.Canonical, len(entries)),
		exact:      make(map[indexKey]int, len(entries)),
		structural: make(map[string][]int, len(entries)),
	}

	for i, e := range entries {
		if !e.Method.IsKnown() {
			return nil, apperrors.NewLoadError(source, e.Line, fmt.Sprintf("unknown method %q", e.Method), nil)
		}
		e.Order = i
		norm := normalize.Canonical(e.PathTemplate)
		key := indexKey{method: e.Method, path: norm}
		if prev, dup := ix.exact[key]; dup {
			return nil, apperrors.NewLoadError(source, e.Line,
				fmt.Sprintf("duplicate endpoint %s %s (first declared %s)", e.Method, norm, declaredAt(ix.entries[prev])), nil)
		}
		ix.entries[i] = e
		ix.exact[key] = i
		ix.structural[norm] = append(ix.structural[norm], i)
	}
	return ix, nil
}

// Source returns where the list was loaded from.
func (ix *Index) Source() string {
	return ix.source
}

// Len returns the number of canonical entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Entry returns the entry declared at position i.
func (ix *Index) Entry(i int) endpoint.Canonical {
	return ix.entries[i]
}

// Entries returns a copy of the entries in declared order.
func (ix *Index) Entries() []endpoint.Canonical {
	out := make([]endpoint.Canonical, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Exact looks up an entry by method and normalized path.
func (ix *Index) Exact(method endpoint.Method, path string) (int, bool) {
	i, ok := ix.exact[indexKey{method: method, path: path}]
	return i, ok
}

// Structural returns the earliest declared entry with the normalized path,
// whatever its method.
func (ix *Index) Structural(path string) (int, bool) {
	ids := ix.structural[path]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

func declaredAt(e endpoint.Canonical) string {
	if e.Line > 0 {
		return fmt.Sprintf("at line %d", e.Line)
	}
	return fmt.Sprintf("as entry %d", e.Order+1)
}
