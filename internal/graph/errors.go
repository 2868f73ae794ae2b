package graph

import (
	"fmt"
	"strings"
)

// Overlap is a pair of projects whose roots are equal or nested.
type Overlap struct {
	Outer, Inner string // project names
	OuterRoot    string
	InnerRoot    string
}

func (o Overlap) String() string {
	return fmt.Sprintf("%s (%s) contains %s (%s)", o.Outer, o.OuterRoot, o.Inner, o.InnerRoot)
}

// ResolutionError reports an internally inconsistent workspace
// configuration that prevents building the graph.
type ResolutionError struct {
	Overlaps []Overlap
}

func (e *ResolutionError) Error() string {
	parts := make([]string, len(e.Overlaps))
	for i, o := range e.Overlaps {
		parts[i] = o.String()
	}
	return "overlapping project roots: " + strings.Join(parts, "; ")
}
