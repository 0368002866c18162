// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import (
	"reflect"
	"testing"
)

func TestKeywordMatcher_Find(t *testing.T) {
	m := NewKeywordMatcher([]string{"free", "money", "click here", "winner", "urgent", "FREE", ""})

	if m.Len() != 5 {
		t.Fatalf("Len() = %d, want 5 (duplicates and empties dropped)", m.Len())
	}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "see you at lunch", nil},
		{"case insensitive", "FREE MONEY CLICK HERE", []string{"free", "money", "click here"}},
		{"repeated counts once", "free free free", []string{"free"}},
		{"embedded", "you are the winner!!!", []string{"winner"}},
		{"overlap via failure links", "clicclick here", []string{"click here"}},
		{"substring inside a longer word", "enjoy your freedom", []string{"free"}},
		{"no word boundary required", "moneymaker", []string{"money"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Find(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Find(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestKeywordMatcher_SuffixPatterns(t *testing.T) {
	m := NewKeywordMatcher([]string{"he", "she", "hers"})
	got := m.Find("ushers")
	want := []string{"he", "she", "hers"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Find = %v, want %v", got, want)
	}
}

func TestKeywordMatcher_Empty(t *testing.T) {
	m := NewKeywordMatcher(nil)
	if got := m.Find("anything"); got != nil {
		t.Errorf("Find on empty matcher = %v", got)
	}
}
