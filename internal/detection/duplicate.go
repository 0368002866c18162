// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/chatwatch/internal/cache"
	"github.com/tomtom215/chatwatch/internal/models"
)

// duplicateAfter is the occurrence count from which repeats are flagged.
const duplicateAfter = 3

// DuplicateDetector flags content seen duplicateAfter or more times.
type DuplicateDetector struct {
	fingerprints *cache.FingerprintCache
}

// NewDuplicateDetector creates a detector backed by a cache of the given capacity.
func NewDuplicateDetector(capacity int) *DuplicateDetector {
	return &DuplicateDetector{fingerprints: cache.NewFingerprintCache(capacity)}
}

// Type implements Detector.
func (d *DuplicateDetector) Type() models.AlertType {
	return models.AlertTypeDuplicate
}

// Check implements Detector. Messages with no text after normalization
// (uncaptioned media) are not fingerprinted.
func (d *DuplicateDetector) Check(_ context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error) {
	normalized := NormalizeContent(msg.Content)
	if normalized == "" {
		return nil, nil
	}

	fp := cache.Fingerprint(normalized)
	prior := d.fingerprints.Increment(fp)
	occurrences := prior + 1
	if occurrences < duplicateAfter {
		return nil, nil
	}

	alert := models.NewAlert(models.AlertTypeDuplicate, models.SeverityMedium, msg,
		fmt.Sprintf("content repeated %d times", occurrences),
		models.AlertMetadata{Duplicate: &models.DuplicateMeta{
			Fingerprint: cache.FormatFingerprint(fp),
			PriorCount:  prior,
			Occurrences: occurrences,
		}}, now)
	return &alert, nil
}
