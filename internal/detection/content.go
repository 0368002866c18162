// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tomtom215/chatwatch/internal/models"
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

// CountURLs returns the number of links in text.
func CountURLs(text string) int {
	return len(urlPattern.FindAllStringIndex(text, -1))
}

// ContainsURL reports whether text holds at least one link.
func ContainsURL(text string) bool {
	return urlPattern.MatchString(text)
}

// NormalizeContent lowercases text, strips punctuation and symbols, and
// collapses whitespace runs to single spaces. "Hello  World!" and
// "hello world" normalize identically.
func NormalizeContent(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// capsRatio returns uppercase letters divided by all letters.
func capsRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// severityForScore maps a [0,1] score to a severity with the given cut-offs.
func severityForScore(score, high, medium float64) models.Severity {
	switch {
	case score > high:
		return models.SeverityHigh
	case score > medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
