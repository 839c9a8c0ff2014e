// Package artifact models produced source files, their module identity and
// the module paths they import.
package artifact

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// ModulePath is an ordered sequence of name segments, e.g. ["pkg", "sub", "mod"].
// The zero value is the empty (root) path. A ModulePath never shares its
// backing array with the caller, so it is safe to pass by value.
type ModulePath struct {
	segs []string
}

// NewModulePath builds a path from segments. Empty segments are dropped.
func NewModulePath(segs ...string) ModulePath {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return ModulePath{segs: out}
}

// ParseModulePath splits s on sep, e.g. ParseModulePath("a.b.c", ".").
func ParseModulePath(s, sep string) ModulePath {
	if s == "" {
		return ModulePath{}
	}
	return NewModulePath(strings.Split(s, sep)...)
}

// Segments returns a copy of the path's segments.
func (p ModulePath) Segments() []string {
	return append([]string(nil), p.segs...)
}

// Len returns the number of segments.
func (p ModulePath) Len() int { return len(p.segs) }

// IsZero reports whether the path has no segments.
func (p ModulePath) IsZero() bool { return len(p.segs) == 0 }

// Equal reports whether both paths have the same segment sequence.
func (p ModulePath) Equal(other ModulePath) bool {
	if len(p.segs) != len(other.segs) {
		return false
	}
	for i := range p.segs {
		if p.segs[i] != other.segs[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is equal to, or a leading part of, p.
func (p ModulePath) HasPrefix(prefix ModulePath) bool {
	if len(prefix.segs) > len(p.segs) {
		return false
	}
	for i := range prefix.segs {
		if p.segs[i] != prefix.segs[i] {
			return false
		}
	}
	return true
}

// Parent returns the path without its last segment. The second return value
// is false for the root path.
func (p ModulePath) Parent() (ModulePath, bool) {
	if len(p.segs) == 0 {
		return ModulePath{}, false
	}
	return NewModulePath(p.segs[:len(p.segs)-1]...), true
}

// Join returns a new path with segs appended.
func (p ModulePath) Join(segs ...string) ModulePath {
	all := make([]string, 0, len(p.segs)+len(segs))
	all = append(all, p.segs...)
	all = append(all, segs...)
	return NewModulePath(all...)
}

// Last returns the final segment, or "" for the root path.
func (p ModulePath) Last() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// Key returns a string usable as a map key. Two paths have the same key iff
// they are Equal.
func (p ModulePath) Key() string {
	return strings.Join(p.segs, "/")
}

func (p ModulePath) String() string {
	return strings.Join(p.segs, ".")
}

// MarshalYAML encodes the path as a dotted string.
func (p ModulePath) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML decodes a dotted string ("a.b") or a "::" separated one ("a::b").
func (p *ModulePath) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if strings.Contains(s, "::") {
		*p = ParseModulePath(s, "::")
	} else {
		*p = ParseModulePath(s, ".")
	}
	return nil
}
