// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("INSERT", "messages"))

	RecordDBQuery("INSERT", "messages", 5*time.Millisecond, nil)
	RecordDBQuery("INSERT", "messages", 5*time.Millisecond, errors.New("constraint"))

	after := testutil.ToFloat64(DBQueryErrors.WithLabelValues("INSERT", "messages"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestRecordAlert(t *testing.T) {
	before := testutil.ToFloat64(DetectionAlerts.WithLabelValues("spam", "high"))
	RecordAlert("spam", "high")
	RecordAlert("spam", "high")
	if got := testutil.ToFloat64(DetectionAlerts.WithLabelValues("spam", "high")) - before; got != 2 {
		t.Errorf("alert counter delta = %v, want 2", got)
	}
}

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(DispatchDeliveries.WithLabelValues("security_alert", "dropped"))
	RecordDelivery("security_alert", "dropped")
	if got := testutil.ToFloat64(DispatchDeliveries.WithLabelValues("security_alert", "dropped")) - before; got != 1 {
		t.Errorf("delivery counter delta = %v, want 1", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/stats", "200"))
	RecordAPIRequest("GET", "/api/v1/stats", "200", time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/stats", "200")) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}
