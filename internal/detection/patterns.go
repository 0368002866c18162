// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
)

// PatternCategory is a named matcher that counts occurrences in a text.
type PatternCategory struct {
	Name  string
	Count func(text string) int
}

// regexCategory builds a category from regex sources. Panics on invalid
// patterns (they are compile-time constants).
func regexCategory(name string, patterns ...string) PatternCategory {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return PatternCategory{
		Name: name,
		Count: func(text string) int {
			n := 0
			for _, re := range compiled {
				n += len(re.FindAllStringIndex(text, -1))
			}
			return n
		},
	}
}

// DefaultPatterns is the fixed pattern battery.
var DefaultPatterns = []PatternCategory{
	regexCategory("url", `(?i)\bhttps?://\S+`, `(?i)\bwww\.\S+`),
	regexCategory("shortener", `(?i)\b(?:bit\.ly|tinyurl\.com|goo\.gl|t\.co|ow\.ly|is\.gd|buff\.ly|rebrand\.ly|cutt\.ly)/\S+`),
	regexCategory("money", `[$€£¥]\s?\d[\d,.]*`, `(?i)\b\d[\d,.]*\s?(?:usd|eur|gbp|dollars?|euros?|bucks)\b`),
	regexCategory("card_number", `\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,7}\b`),
	regexCategory("national_id", `\b\d{3}-\d{2}-\d{4}\b`),
	regexCategory("phone", `\+\d{1,3}[ .-]?\(?\d{2,4}\)?[ .-]?\d{3,4}[ .-]?\d{3,4}\b`),
	regexCategory("email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexCategory("excessive_caps", `\b[A-Z]{5,}\b`),
	{Name: "repeated_chars", Count: countRepeatedRuns},
	regexCategory("exclamations", `!{2,}`),
	regexCategory("crypto_address", `\b(?:bc1|[13])[a-km-zA-HJ-NP-Z1-9]{25,39}\b`, `\b0x[a-fA-F0-9]{40}\b`),
	regexCategory("social_marker", `(?:^|\s)[@#][A-Za-z0-9_]{2,}`),
}

// repeatedRunLength is the run length counted as a repeated-character run.
const repeatedRunLength = 5

// countRepeatedRuns counts runs of one character repeated at least
// repeatedRunLength times ("soooooo", "!!!!!"). RE2 has no backreferences.
func countRepeatedRuns(text string) int {
	var (
		count int
		prev  rune
		run   int
	)
	for i, r := range text {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run == repeatedRunLength && r != ' ' {
			count++
		}
		prev = r
	}
	return count
}

// Pattern confidence thresholds.
const (
	patternStep          = 0.1
	patternHighThreshold = 0.7
	patternMedThreshold  = 0.3
)

// PatternDetector runs the pattern battery.
type PatternDetector struct {
	categories []PatternCategory
}

// NewPatternDetector creates a detector over categories, or DefaultPatterns when empty.
func NewPatternDetector(categories []PatternCategory) *PatternDetector {
	if len(categories) == 0 {
		categories = DefaultPatterns
	}
	return &PatternDetector{categories: categories}
}

// Type implements Detector.
func (d *PatternDetector) Type() models.AlertType {
	return models.AlertTypeSuspiciousPattern
}

// Match returns per-category counts (non-zero only) and the total.
func (d *PatternDetector) Match(text string) (map[string]int, int) {
	matches := make(map[string]int)
	total := 0
	for _, c := range d.categories {
		if n := c.Count(text); n > 0 {
			matches[c.Name] = n
			total += n
		}
	}
	return matches, total
}

// Check implements Detector. Confidence is 0.1 per match across all categories, capped at 1.
func (d *PatternDetector) Check(_ context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error) {
	if msg.Content == "" {
		return nil, nil
	}
	matches, total := d.Match(msg.Content)
	if total == 0 {
		return nil, nil
	}

	confidence := math.Min(float64(total)*patternStep, 1)
	names := make([]string, 0, len(matches))
	for name := range matches {
		names = append(names, name)
	}
	sort.Strings(names)

	alert := models.NewAlert(models.AlertTypeSuspiciousPattern,
		severityForScore(confidence, patternHighThreshold, patternMedThreshold), msg,
		fmt.Sprintf("suspicious patterns: %s", strings.Join(names, ", ")),
		models.AlertMetadata{Pattern: &models.PatternMeta{Confidence: confidence, Matches: matches}}, now)
	return &alert, nil
}
