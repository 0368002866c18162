// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
)

// Behavioral flags.
const (
	FlagOutsideHours = "outside_normal_hours"
	FlagLongContent  = "long_content"
	FlagMediaLink    = "media_caption_link"
)

const behaviorLongContent = 2000

// BehaviorDetector flags unusual sending behavior.
type BehaviorDetector struct {
	startHour int
	endHour   int
	loc       *time.Location
}

// NewBehaviorDetector creates a detector treating [startHour, endHour] in loc
// as normal activity hours.
func NewBehaviorDetector(startHour, endHour int, loc *time.Location) *BehaviorDetector {
	if loc == nil {
		loc = time.Local
	}
	return &BehaviorDetector{startHour: startHour, endHour: endHour, loc: loc}
}

// Type implements Detector.
func (d *BehaviorDetector) Type() models.AlertType {
	return models.AlertTypeBehavioral
}

// Flags returns the behavioral flags raised by msg.
func (d *BehaviorDetector) Flags(msg *models.NormalizedMessage) (flags []string, hour int) {
	ts := msg.Timestamp
	hour = ts.In(d.loc).Hour()
	if hour < d.startHour || hour > d.endHour {
		flags = append(flags, FlagOutsideHours)
	}
	if len([]rune(msg.Content)) > behaviorLongContent {
		flags = append(flags, FlagLongContent)
	}
	if !msg.MediaKind.IsText() && ContainsURL(msg.Content) {
		flags = append(flags, FlagMediaLink)
	}
	return flags, hour
}

// Check implements Detector. More than two flags is high, any flag is medium.
func (d *BehaviorDetector) Check(_ context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error) {
	flags, hour := d.Flags(msg)
	if len(flags) == 0 {
		return nil, nil
	}

	sev := models.SeverityMedium
	if len(flags) > 2 {
		sev = models.SeverityHigh
	}
	alert := models.NewAlert(models.AlertTypeBehavioral, sev, msg,
		fmt.Sprintf("behavioral anomaly: %s", strings.Join(flags, ", ")),
		models.AlertMetadata{Behavior: &models.BehaviorMeta{Flags: flags, Hour: hour}}, now)
	return &alert, nil
}
