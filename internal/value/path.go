package value

import "strings"

// Path is a parsed dotted field path ("a.b.c" -> ["a","b","c"]). The
// empty path resolves to the root value.
type Path []string

// ParsePath splits a dotted string into a Path. An empty string yields
// the empty path.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

// String joins the path back into dotted form.
func (p Path) String() string { return strings.Join(p, ".") }

// IsID reports whether the path is the single segment "id", which gets
// shortcut treatment against the row key in predicate evaluation.
func (p Path) IsID() bool { return len(p) == 1 && p[0] == "id" }

// Resolve walks the path through nested objects starting at root.
// Any non-object encountered before the path is exhausted terminates
// the walk with not-found. An empty path returns the root itself.
func Resolve(root Value, p Path) (Value, bool) {
	current := root
	for _, part := range p {
		next, ok := current.Get(part)
		if !ok {
			return Null, false
		}
		current = next
	}
	return current, true
}
