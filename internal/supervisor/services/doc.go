// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package services adapts chatwatch components to suture.Service.

  - DashboardService: the API server and its live push hub. The hub is
    started before the listener and stopped after Shutdown returns.
  - RunnerService: anything with Run(ctx) error, used for the ingestion
    queue and the metric recorder.
  - LifecycleService: Start/Stop components such as the chat session
    supervisor.

Serve returns ctx.Err() on a requested shutdown and a wrapped error on
failure, which suture treats as a crash and restarts with backoff.
*/
package services
