// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package classifier

import (
	"sort"
	"strings"
)

// Normalize lowercases s, collapses every run of Unicode whitespace to a
// single space and trims the ends. Content and signatures go through the same
// normalization so matching is case and whitespace insensitive.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Automaton is a compiled Aho-Corasick matcher over a fixed pattern list.
//
// It finds every pattern occurring in a text with a single left-to-right pass,
// in O(len(text) + matches) regardless of how many patterns were compiled.
// An Automaton is immutable after Compile and safe for concurrent use.
type Automaton struct {
	nodes    []acNode
	patterns []string
}

type acNode struct {
	next map[rune]int32
	fail int32
	// out holds indices into patterns that end at this node, including those
	// inherited through the failure chain.
	out []int
}

// Compile builds an automaton from patterns. Patterns are normalized; blank
// and duplicate patterns are dropped, so the result does not depend on the
// order or multiplicity of the input.
func Compile(patterns []string) *Automaton {
	uniq := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if n := Normalize(p); n != "" {
			uniq[n] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(uniq))
	for p := range uniq {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	a := &Automaton{
		nodes:    []acNode{{next: map[rune]int32{}}},
		patterns: sorted,
	}
	for i, p := range sorted {
		a.insert(i, p)
	}
	a.link()
	return a
}

func (a *Automaton) insert(index int, pattern string) {
	var cur int32
	for _, r := range pattern {
		nxt, ok := a.nodes[cur].next[r]
		if !ok {
			a.nodes = append(a.nodes, acNode{next: map[rune]int32{}})
			nxt = int32(len(a.nodes) - 1)
			a.nodes[cur].next[r] = nxt
		}
		cur = nxt
	}
	a.nodes[cur].out = append(a.nodes[cur].out, index)
}

// link computes failure links breadth first.
func (a *Automaton) link() {
	queue := make([]int32, 0, len(a.nodes))
	for _, child := range a.nodes[0].next {
		a.nodes[child].fail = 0
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for r, child := range a.nodes[cur].next {
			queue = append(queue, child)

			f := a.nodes[cur].fail
			for f != 0 {
				if _, ok := a.nodes[f].next[r]; ok {
					break
				}
				f = a.nodes[f].fail
			}
			if target, ok := a.nodes[f].next[r]; ok && target != child {
				a.nodes[child].fail = target
			} else {
				a.nodes[child].fail = 0
			}

			if inherited := a.nodes[a.nodes[child].fail].out; len(inherited) > 0 {
				merged := make([]int, 0, len(a.nodes[child].out)+len(inherited))
				merged = append(merged, a.nodes[child].out...)
				merged = append(merged, inherited...)
				a.nodes[child].out = merged
			}
		}
	}
}

// Len returns the number of distinct compiled patterns.
func (a *Automaton) Len() int {
	return len(a.patterns)
}

// Patterns returns the normalized patterns in sorted order.
func (a *Automaton) Patterns() []string {
	return append([]string(nil), a.patterns...)
}

// FindAll returns the distinct patterns that occur in normalized, sorted.
// The text must already be normalized with Normalize.
func (a *Automaton) FindAll(normalized string) []string {
	if len(a.patterns) == 0 {
		return nil
	}

	seen := make([]bool, len(a.patterns))
	found := 0
	var cur int32
	for _, r := range normalized {
		for {
			if nxt, ok := a.nodes[cur].next[r]; ok {
				cur = nxt
				break
			}
			if cur == 0 {
				break
			}
			cur = a.nodes[cur].fail
		}
		for _, idx := range a.nodes[cur].out {
			if !seen[idx] {
				seen[idx] = true
				found++
			}
		}
		if found == len(a.patterns) {
			break
		}
	}

	if found == 0 {
		return nil
	}
	matches := make([]string, 0, found)
	for i, ok := range seen {
		if ok {
			matches = append(matches, a.patterns[i])
		}
	}
	return matches
}

// Contains reports whether any pattern occurs in the normalized text.
func (a *Automaton) Contains(normalized string) bool {
	return len(a.FindAll(normalized)) > 0
}
