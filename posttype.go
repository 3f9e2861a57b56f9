package astroglossary

import "slices"

// Types is the ordered set of type names a post may be classified under.
type Types []string

// Has returns true if name is one of the types.
func (t Types) Has(name string) bool {
	return slices.Contains(t, name)
}

// Clone returns a copy of the types.
func (t Types) Clone() Types {
	return slices.Clone(t)
}

// DefaultTypes returns the types the gallery starts with when none are configured.
func DefaultTypes() Types {
	return Types{
		"galaxy",
		"nebula",
		"planet",
		"star",
		"comet",
		"planetoid",
		"constellation",
	}
}
