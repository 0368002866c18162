// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/chatwatch/internal/validation"
)

// Validate runs struct-tag validation followed by cross-field checks.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateReconnect(); err != nil {
		return err
	}

	if err := c.validateDetection(); err != nil {
		return err
	}

	return c.validateDispatch()
}

func (c *Config) validateReconnect() error {
	if c.Reconnect.CapDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.cap_delay (%s) must be >= reconnect.base_delay (%s)",
			c.Reconnect.CapDelay, c.Reconnect.BaseDelay)
	}
	return nil
}

func (c *Config) validateDetection() error {
	if c.Detection.NormalHoursStart > c.Detection.NormalHoursEnd {
		return fmt.Errorf("detection.normal_hours_start (%d) must be <= detection.normal_hours_end (%d)",
			c.Detection.NormalHoursStart, c.Detection.NormalHoursEnd)
	}
	if _, err := c.Detection.TimeLocation(); err != nil {
		return fmt.Errorf("detection.location: %w", err)
	}
	return nil
}

// validateDispatch keeps the health thresholds ordered.
func (c *Config) validateDispatch() error {
	d := c.Dispatch
	if d.HealthLowFailures > d.HealthMediumFailures || d.HealthMediumFailures > d.HealthHighFailures {
		return fmt.Errorf("dispatch health thresholds must satisfy low <= medium <= high (got %d, %d, %d)",
			d.HealthLowFailures, d.HealthMediumFailures, d.HealthHighFailures)
	}
	return nil
}

// TimeLocation resolves the configured time zone. "" and "Local" use the host zone.
func (d DetectionConfig) TimeLocation() (*time.Location, error) {
	if d.Location == "" || d.Location == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(d.Location)
}

// WebhookEnabled reports whether a webhook sink is configured.
func (d DispatchConfig) WebhookEnabled() bool {
	return d.WebhookURL != ""
}
