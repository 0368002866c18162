// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/validation"
)

const defaultAlertLimit = 100

// parseAlertFilter reads and validates alert listing query parameters.
func parseAlertFilter(r *http.Request) (models.AlertFilter, error) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		Limit:     defaultAlertLimit,
		Severity:  models.Severity(q.Get("severity")),
		Type:      models.AlertType(q.Get("type")),
		ChannelID: q.Get("channel_id"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = n
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("resolved must be true or false")
		}
		filter.Resolved = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = &t
	}

	if err := validation.ValidateStruct(&filter); err != nil {
		return filter, err
	}
	return filter, nil
}

// channelRequest is the body of PUT /channels/{id}.
type channelRequest struct {
	Name   string `json:"name" validate:"max=256"`
	Active *bool  `json:"active" validate:"required"`
}
