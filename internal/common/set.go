package common

import (
	"sort"

	"golang.org/x/exp/maps"
)

// StringSet is an unordered collection of unique strings used wherever the
// domain cares about set-equality rather than list-equality (host address
// sets, wildcard-expanded attribute names, and so on).
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from a slice, collapsing duplicates.
func NewStringSet(values ...string) StringSet {
	set := make(StringSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (s StringSet) Add(value string) {
	s[value] = struct{}{}
}

func (s StringSet) Contains(value string) bool {
	_, found := s[value]
	return found
}

// Equal reports whether the two sets contain exactly the same members.
// Renaming, reordering, or duplicating entries on either side never changes
// the result.
func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if _, found := other[v]; !found {
			return false
		}
	}
	return true
}

// Slice returns the set's members in a stable, sorted order so callers that
// need determinism (e.g. SAN construction) don't depend on map iteration.
func (s StringSet) Slice() []string {
	values := maps.Keys(s)
	sort.Strings(values)
	return values
}

// Difference computes the members of b that are not present in a.
func Difference(a, b []string) []string {
	seen := NewStringSet(a...)
	var results []string
	for _, entry := range b {
		if !seen.Contains(entry) {
			results = append(results, entry)
		}
	}
	return results
}
