// Package matcher implements a byte-level Aho-Corasick automaton that reports
// every occurrence of every pattern, overlapping occurrences included.
package matcher

import (
	"bytes"
	"fmt"
	"iter"
	"slices"
)

// Match is one pattern occurrence b[Start:End]. Pattern indexes the sorted
// pattern set (see Matcher.Pattern).
type Match struct {
	Start   int
	End     int
	Pattern int
}

// PatternBuildError reports a pattern set the automaton cannot be built from.
type PatternBuildError struct {
	Reason string
	Index  int // index into the caller's slice, -1 when not tied to one pattern
}

func (e *PatternBuildError) Error() string {
	if e.Index < 0 {
		return "build matcher: " + e.Reason
	}

	return fmt.Sprintf("build matcher: pattern %d: %s", e.Index, e.Reason)
}

type edge struct {
	label byte
	next  int32
}

type node struct {
	edges   []edge // sorted by label
	fail    int32
	dict    int32 // nearest terminal state on the failure chain, 0 for none
	depth   int32
	pattern int32 // -1 unless a pattern ends here
}

// Matcher is immutable after Build and safe for concurrent use.
type Matcher struct {
	nodes    []node
	root     [256]int32 // dense transitions out of the root, 0 means stay
	patterns [][]byte
}

// Build constructs the automaton. Patterns are sorted first so the state
// numbering does not depend on the caller's order; the pattern bytes are
// referenced, not copied.
func Build(patterns [][]byte) (*Matcher, error) {
	if len(patterns) == 0 {
		return nil, &PatternBuildError{Reason: "empty pattern set", Index: -1}
	}

	for i, p := range patterns {
		if len(p) == 0 {
			return nil, &PatternBuildError{Reason: "empty pattern", Index: i}
		}
	}

	sorted := slices.Clone(patterns)
	slices.SortStableFunc(sorted, bytes.Compare)

	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i-1], sorted[i]) {
			return nil, &PatternBuildError{Reason: fmt.Sprintf("duplicate pattern %q", sorted[i]), Index: -1}
		}
	}

	m := &Matcher{
		nodes:    []node{{pattern: -1}},
		patterns: sorted,
	}

	for i, p := range sorted {
		m.insert(p, int32(i))
	}

	m.link()

	return m, nil
}

func (m *Matcher) child(s int32, c byte) (int32, bool) {
	edges := m.nodes[s].edges

	i, found := slices.BinarySearchFunc(edges, c, func(e edge, c byte) int {
		return int(e.label) - int(c)
	})
	if !found {
		return 0, false
	}

	return edges[i].next, true
}

func (m *Matcher) insert(p []byte, idx int32) {
	s := int32(0)

	for _, c := range p {
		next, ok := m.child(s, c)
		if !ok {
			next = int32(len(m.nodes))
			m.nodes = append(m.nodes, node{depth: m.nodes[s].depth + 1, pattern: -1})

			edges := m.nodes[s].edges
			i, _ := slices.BinarySearchFunc(edges, c, func(e edge, c byte) int {
				return int(e.label) - int(c)
			})
			m.nodes[s].edges = slices.Insert(edges, i, edge{label: c, next: next})
		}

		s = next
	}

	m.nodes[s].pattern = idx
}

// link fills failure and dictionary-suffix links breadth first.
func (m *Matcher) link() {
	queue := make([]int32, 0, len(m.nodes))

	for _, e := range m.nodes[0].edges {
		m.root[e.label] = e.next
		queue = append(queue, e.next)
	}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for _, e := range m.nodes[u].edges {
			f := m.nodes[u].fail
			for f != 0 {
				if _, ok := m.child(f, e.label); ok {
					break
				}

				f = m.nodes[f].fail
			}

			var target int32
			if f == 0 {
				target = m.root[e.label]
			} else {
				target, _ = m.child(f, e.label)
			}

			c := &m.nodes[e.next]
			c.fail = target

			if m.nodes[target].pattern >= 0 {
				c.dict = target
			} else {
				c.dict = m.nodes[target].dict
			}

			queue = append(queue, e.next)
		}
	}
}

func (m *Matcher) step(s int32, c byte) int32 {
	for s != 0 {
		if next, ok := m.child(s, c); ok {
			return next
		}

		s = m.nodes[s].fail
	}

	return m.root[c]
}

// FindOverlapping yields every occurrence of every pattern in b, ordered by
// ascending End and, for equal End, ascending Start.
func (m *Matcher) FindOverlapping(b []byte) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		s := int32(0)

		for i, c := range b {
			s = m.step(s, c)

			t := s
			if m.nodes[t].pattern < 0 {
				t = m.nodes[t].dict
			}

			end := i + 1
			for t != 0 {
				n := &m.nodes[t]
				if !yield(Match{Start: end - int(n.depth), End: end, Pattern: int(n.pattern)}) {
					return
				}

				t = n.dict
			}
		}
	}
}

// Len is the number of patterns.
func (m *Matcher) Len() int { return len(m.patterns) }

// Pattern returns pattern i of the sorted pattern set.
func (m *Matcher) Pattern(i int) []byte { return m.patterns[i] }

// States is the number of automaton states, root included.
func (m *Matcher) States() int { return len(m.nodes) }
