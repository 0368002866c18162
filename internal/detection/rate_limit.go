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

// RateLimitDetector flags senders exceeding a message count inside a sliding window.
type RateLimitDetector struct {
	window    *cache.RateWindow
	threshold int
}

// NewRateLimitDetector creates a detector. threshold is the number of
// messages allowed per window; the next one raises an alert.
func NewRateLimitDetector(window time.Duration, threshold int) *RateLimitDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &RateLimitDetector{
		window:    cache.NewRateWindow(window),
		threshold: threshold,
	}
}

// Type implements Detector.
func (d *RateLimitDetector) Type() models.AlertType {
	return models.AlertTypeRateLimit
}

// Check implements Detector. The message timestamp, not the wall clock, is
// used so replayed backlogs are judged by when they were sent.
func (d *RateLimitDetector) Check(_ context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}
	count := d.window.Hit(msg.Sender, ts)
	if count <= d.threshold {
		return nil, nil
	}

	sev := models.SeverityLow
	switch {
	case count > 3*d.threshold:
		sev = models.SeverityHigh
	case count > 2*d.threshold:
		sev = models.SeverityMedium
	}

	alert := models.NewAlert(models.AlertTypeRateLimit, sev, msg,
		fmt.Sprintf("%d messages within %s (limit %d)", count, d.window.Window(), d.threshold),
		models.AlertMetadata{RateLimit: &models.RateLimitMeta{
			Count:     count,
			Threshold: d.threshold,
			WindowMs:  d.window.Window().Milliseconds(),
		}}, now)
	return &alert, nil
}

// TrackedSenders returns how many senders have live window entries.
func (d *RateLimitDetector) TrackedSenders() int {
	return d.window.Len()
}

// Sweep drops senders whose windows have emptied.
func (d *RateLimitDetector) Sweep(now time.Time) int {
	return d.window.Sweep(now)
}
