package models

import (
	"fmt"
	"strings"
)

// Document is a decoded input record: nested mappings and sequences
// terminating in scalars. The resolver mutates it in place at specific
// paths; ownership stays with the caller.
type Document map[string]interface{}

// PathSegment is one step of an access path: either a map key or a
// sequence index, never both.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

// KeySegment returns a path segment for a map key
func KeySegment(key string) PathSegment {
	return PathSegment{Key: key}
}

// IndexSegment returns a path segment for a sequence index
func IndexSegment(index int) PathSegment {
	return PathSegment{Index: index, IsIndex: true}
}

// Path uniquely identifies one scalar location in a document at
// traversal time. Segments are typed; dot/bracket rendering happens only
// at the logging and output boundary.
type Path []PathSegment

// String renders the path for logs, e.g. "page_info.images[3].url"
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// Append returns a new path extended by one segment. The backing array is
// copied so sibling paths never alias each other.
func (p Path) Append(seg PathSegment) Path {
	next := make(Path, len(p)+1)
	copy(next, p)
	next[len(p)] = seg
	return next
}

// Located pairs a string scalar with the access path it was found at.
type Located struct {
	Path  Path
	Value string
}

// ResolutionResult captures the outcome of resolving one image reference.
// It is consumed immediately to decide substitution, never retained.
type ResolutionResult struct {
	Path      Path
	RawAnswer string
	Answer    string
	Valid     bool
}
