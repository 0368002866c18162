// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName returns the JetStream stream that captures every subject under
// prefix. Stream names may not contain dots, so one stream per topic is not
// an option.
func StreamName(prefix string) string {
	if prefix == "" {
		prefix = defaultPrefix
	}
	name := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(prefix)
	return strings.ToUpper(name) + "_EVENTS"
}

// ensureStream creates or updates the stream for prefix.
func ensureStream(ctx context.Context, cfg Config) error {
	nc, err := natsgo.Connect(cfg.URL, natsgo.Name("chatwatch-provisioner"))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName(prefix),
		Subjects:   []string{prefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		MaxAge:     cfg.StreamMaxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName(prefix), err)
	}
	return nil
}
