// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomtom215/chatwatch/internal/cache"
	"github.com/tomtom215/chatwatch/internal/models"
)

// Spam score weights.
const (
	spamKeywordWeight    = 0.4
	spamLengthBonus      = 0.2
	spamLengthThreshold  = 1000
	spamRepetitionWeight = 0.3
	spamURLStep          = 0.1
	spamURLMax           = 0.3
	spamCapsBonus        = 0.2
	spamCapsRatio        = 0.5
	spamCapsMinLength    = 20
	spamWordRepeatFree   = 3

	spamAlertThreshold = 0.3
	spamHighThreshold  = 0.7
)

// SpamDetector scores content against a keyword battery and shape heuristics.
type SpamDetector struct {
	keywords *cache.KeywordMatcher
}

// NewSpamDetector creates a detector for the given keywords.
func NewSpamDetector(keywords []string) *SpamDetector {
	return &SpamDetector{keywords: cache.NewKeywordMatcher(keywords)}
}

// Type implements Detector.
func (d *SpamDetector) Type() models.AlertType {
	return models.AlertTypeSpam
}

// Score computes the spam score breakdown for content.
//
//	score = keywordRatio*0.4 + [len>1000]*0.2 + repetition*0.3
//	      + min(urls*0.1, 0.3) + [caps>0.5 && len>20]*0.2
//
// capped at 1.
func (d *SpamDetector) Score(content string) models.SpamMeta {
	var meta models.SpamMeta

	if n := d.keywords.Len(); n > 0 {
		meta.MatchedKeywords = d.keywords.Find(content)
		meta.KeywordRatio = float64(len(meta.MatchedKeywords)) / float64(n)
	}
	score := meta.KeywordRatio * spamKeywordWeight

	length := len([]rune(content))
	if length > spamLengthThreshold {
		score += spamLengthBonus
	}

	meta.RepetitionScore = repetitionScore(content)
	score += meta.RepetitionScore * spamRepetitionWeight

	meta.URLCount = CountURLs(content)
	score += math.Min(float64(meta.URLCount)*spamURLStep, spamURLMax)

	meta.CapsRatio = capsRatio(content)
	if meta.CapsRatio > spamCapsRatio && length > spamCapsMinLength {
		score += spamCapsBonus
	}

	meta.Score = math.Min(score, 1)
	return meta
}

// Check implements Detector.
func (d *SpamDetector) Check(_ context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error) {
	if msg.Content == "" {
		return nil, nil
	}
	meta := d.Score(msg.Content)
	if meta.Score <= spamAlertThreshold {
		return nil, nil
	}

	sev := models.SeverityMedium
	if meta.Score > spamHighThreshold {
		sev = models.SeverityHigh
	}
	alert := models.NewAlert(models.AlertTypeSpam, sev, msg,
		fmt.Sprintf("spam score %.2f", meta.Score),
		models.AlertMetadata{Spam: &meta}, now)
	return &alert, nil
}

// repetitionScore adds (count-3)*0.1 for every word used more than three
// times, capped at 1.
func repetitionScore(content string) float64 {
	counts := make(map[string]int)
	for _, w := range strings.Fields(strings.ToLower(content)) {
		counts[w]++
	}
	var score float64
	for _, n := range counts {
		if n > spamWordRepeatFree {
			score += float64(n-spamWordRepeatFree) * 0.1
		}
	}
	return math.Min(score, 1)
}
