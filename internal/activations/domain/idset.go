package domain

import "slices"

// IDSet is a sorted, duplicate-free list of CRM record IDs.
// The zero value is an empty set.
type IDSet []string

// NewIDSet builds a set from arbitrary IDs, dropping blanks and duplicates.
func NewIDSet(ids ...string) IDSet {
	var s IDSet
	s.Add(ids...)
	return s
}

// Add inserts IDs keeping the set sorted.
func (s *IDSet) Add(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		pos, found := slices.BinarySearch(*s, id)
		if found {
			continue
		}
		*s = slices.Insert(*s, pos, id)
	}
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id string) bool {
	_, found := slices.BinarySearch(s, id)
	return found
}

// Len returns the number of IDs.
func (s IDSet) Len() int { return len(s) }

// Union returns a new set holding the IDs of s and other.
func (s IDSet) Union(other IDSet) IDSet {
	out := slices.Clone(s)
	out.Add(other...)
	return out
}

// Intersect returns the IDs present in both sets.
func (s IDSet) Intersect(other IDSet) IDSet {
	var out IDSet
	for _, id := range s {
		if other.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Equal reports whether both sets hold the same IDs.
func (s IDSet) Equal(other IDSet) bool {
	return slices.Equal(s, other)
}

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
