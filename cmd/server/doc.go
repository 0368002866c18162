// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package main is the entry point for the chatwatch server.

chatwatch keeps a session open to a chat network bridge, buffers inbound
messages, scores them for spam, flooding, suspicious content, unusual
behavior and duplicated content, stores messages and alerts in DuckDB and
delivers alerts to a webhook, an optional NATS subject and the dashboard.

# Process layout

	RootSupervisor ("chatwatch")
	├── DataSupervisor ("data-layer")
	│   ├── metrics-recorder
	│   └── metric-retention
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── ingest-queue
	│   └── chat-session
	└── APISupervisor ("api-layer")
	    └── dashboard (HTTP server + live push hub)

Startup order:

 1. Configuration (koanf: defaults, config.yaml, then mapped environment variables)
 2. Logging (zerolog)
 3. DuckDB store and the Badger credential store
 4. Analyzer, dispatcher (webhook, dashboard hub, NATS sink) and recorder
 5. Ingestion queue and session supervisor
 6. HTTP API and the supervisor tree

# Signals

SIGINT and SIGTERM cancel the root context. The session logs out, the queue
discards its buffer, the HTTP server drains, and then the stores are closed.
*/
package main
