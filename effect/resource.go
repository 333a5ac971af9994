package effect

import (
	"fmt"
	"slices"
	"strings"
)

// ResourceID identifies a unit of shared state such as an account balance.
type ResourceID string

// Validate rejects empty identifiers.
func (r ResourceID) Validate() error {
	if r == "" {
		return fmt.Errorf("%w: empty resource id", ErrInvalidEffect)
	}
	return nil
}

// Compare is the canonical total order over resource ids: byte-wise
// lexicographic order of the id string. Every executor acquires in this
// order.
func Compare(a, b ResourceID) int {
	return strings.Compare(string(a), string(b))
}

// SortCanonical returns a sorted copy of rs.
func SortCanonical(rs []ResourceID) []ResourceID {
	out := slices.Clone(rs)
	slices.SortFunc(out, Compare)
	return out
}

// Dedup returns the canonical acquisition list for rs: sorted, with
// duplicates removed.
func Dedup(rs []ResourceID) []ResourceID {
	return slices.Compact(SortCanonical(rs))
}

// Capability is an opaque authorization token. The core only checks
// membership; issuance and verification happen elsewhere.
type Capability string

// CapabilitySet is the set of tokens a caller presents.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Missing returns the required capabilities absent from s, sorted.
func (s CapabilitySet) Missing(required []Capability) []Capability {
	var missing []Capability
	for _, c := range required {
		if !s.Has(c) {
			missing = append(missing, c)
		}
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}

// Slice returns the members of s in sorted order.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
