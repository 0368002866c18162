// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package eventbus publishes dispatch envelopes to NATS through Watermill so
// other services can consume alerts without polling the webhook.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/metrics"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus publisher is closed")

const defaultPrefix = "chatwatch"

// Config configures the NATS connection.
type Config struct {
	URL           string
	TopicPrefix   string
	JetStream     bool
	MaxReconnects int
	ReconnectWait time.Duration
	// StreamMaxAge bounds JetStream retention; zero keeps messages until
	// discarded by other limits.
	StreamMaxAge time.Duration
}

// Publisher is a dispatch.Sink backed by a Watermill publisher.
type Publisher struct {
	publisher message.Publisher
	prefix    string

	mu     sync.RWMutex
	closed bool
}

var _ dispatch.Sink = (*Publisher)(nil)

// NewNATSPublisher connects to NATS. With JetStream enabled a single stream
// covering the topic prefix is created up front and message ids are tracked
// for deduplication.
func NewNATSPublisher(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.JetStream {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ensureStream(ctx, cfg); err != nil {
			return nil, err
		}
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("chatwatch"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: false,
			TrackMsgId:    cfg.JetStream,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return NewPublisher(pub, cfg.TopicPrefix), nil
}

// NewPublisher wraps any Watermill publisher.
func NewPublisher(pub message.Publisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{publisher: pub, prefix: prefix}
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string {
	return "eventbus"
}

// Topic returns the subject an event is published on.
func (p *Publisher) Topic(event string) string {
	return p.prefix + "." + event
}

// Publish sends the already-serialized envelope body.
func (p *Publisher) Publish(ctx context.Context, env dispatch.Envelope, body []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	msg := message.NewMessage(uuid.NewString(), body)
	msg.Metadata.Set("event", env.Event)
	msg.Metadata.Set("timestamp", fmt.Sprintf("%d", env.Timestamp))
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.SetContext(ctx)

	topic := p.Topic(env.Event)
	if err := p.publisher.Publish(topic, msg); err != nil {
		metrics.EventBusPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventBusPublished.WithLabelValues(topic, "success").Inc()
	return nil
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
