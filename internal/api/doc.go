// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package api serves the dashboard HTTP API.

Routes (chi):

	GET  /api/v1/health                 pipeline health summary
	GET  /api/v1/connection             session state
	POST /api/v1/connection/reset       clear credentials after auth failure
	GET  /api/v1/stats                  system statistics (cached briefly)
	GET  /api/v1/alerts                 alert listing (limit, severity, type, channel_id, resolved, since)
	POST /api/v1/alerts/{id}/resolve    mark an alert resolved
	GET  /api/v1/channels               channel subscriptions
	PUT  /api/v1/channels/{id}          create or update a subscription
	GET  /api/v1/channels/{id}/messages recent stored messages (limit)
	GET  /api/v1/metrics                recorder series names and derived indicators
	GET  /api/v1/metrics/{name}         one recorder series summary
	POST /api/v1/webhook/test           send a test envelope to the configured webhook
	GET  /api/v1/ws                     live dashboard websocket
	GET  /metrics                       Prometheus exposition

Every JSON response uses the APIResponse envelope. The /api/v1 group is rate
limited per client IP with httprate. Everything except health requires a
bearer token when security.api_token is set. CORS is applied globally with go-chi/cors.
*/
package api
