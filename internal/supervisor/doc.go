// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package supervisor runs chatwatch's long-lived components under suture v4.

	RootSupervisor ("chatwatch")
	├── DataSupervisor ("data-layer")
	│   └── metrics-recorder
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── ingest-queue
	│   └── chat-session
	└── APISupervisor ("api-layer")
	    └── dashboard (HTTP server + live push hub)

Each layer counts failures on its own, so a session that keeps crashing backs
off without restarting the HTTP server. Supervisor events are logged through
sutureslog on the zerolog-backed slog handler.

Wrappers for each component live in the services subpackage.

DuckDB and the credential store are not supervised. They are opened once in
main and closed after the tree stops.
*/
package supervisor
