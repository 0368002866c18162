// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import "strings"

// KeywordMatcher finds which of a fixed set of keywords occur in a text using
// an Aho-Corasick automaton, in O(len(text) + matches) regardless of how many
// keywords are configured. Matching is case-insensitive substring matching:
// "free" is found in "freedom".
//
// The automaton is built once by NewKeywordMatcher and is read-only afterwards,
// so concurrent Find calls need no locking.
type KeywordMatcher struct {
	root     *acNode
	keywords []string
}

type acNode struct {
	children map[rune]*acNode
	failure  *acNode
	output   []int // indices into keywords ending at this node
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

// NewKeywordMatcher builds a matcher. Empty and duplicate keywords are ignored.
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	m := &KeywordMatcher{root: newACNode()}

	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		m.insert(len(m.keywords), kw)
		m.keywords = append(m.keywords, kw)
	}
	m.buildFailureLinks()
	return m
}

// Len returns the number of distinct keywords.
func (m *KeywordMatcher) Len() int {
	return len(m.keywords)
}

// Keywords returns the normalized keyword list.
func (m *KeywordMatcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

// Find returns the distinct keywords present in text, in keyword order.
func (m *KeywordMatcher) Find(text string) []string {
	if len(m.keywords) == 0 {
		return nil
	}

	hit := make([]bool, len(m.keywords))
	node := m.root
	for _, ch := range strings.ToLower(text) {
		for node != m.root && node.children[ch] == nil {
			node = node.failure
		}
		if next := node.children[ch]; next != nil {
			node = next
		}
		for _, idx := range node.output {
			hit[idx] = true
		}
	}

	var found []string
	for i, ok := range hit {
		if ok {
			found = append(found, m.keywords[i])
		}
	}
	return found
}

func (m *KeywordMatcher) insert(index int, kw string) {
	node := m.root
	for _, ch := range kw {
		child := node.children[ch]
		if child == nil {
			child = newACNode()
			node.children[ch] = child
		}
		node = child
	}
	node.output = append(node.output, index)
}

// buildFailureLinks wires failure links breadth-first.
func (m *KeywordMatcher) buildFailureLinks() {
	m.root.failure = m.root
	queue := make([]*acNode, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.failure = m.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != m.root && fail.children[ch] == nil {
				fail = fail.failure
			}
			if next := fail.children[ch]; next != nil && next != child {
				child.failure = next
			} else {
				child.failure = m.root
			}
			child.output = append(child.output, child.failure.output...)
		}
	}
}
