// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stdoutmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/stdout-mq/config"
	"github.com/glimte/stdout-mq/internal/rabbitmq"
	"github.com/glimte/stdout-mq/internal/reliability"
	"github.com/glimte/stdout-mq/messaging"
	"github.com/glimte/stdout-mq/monitor"
	"github.com/glimte/stdout-mq/serialization"
	rabbitmqTransport "github.com/glimte/stdout-mq/transports/rabbitmq"
	"go.opentelemetry.io/otel/trace"
)

// Client is a configured shipper: a transport over the backend selected by
// the configuration, with counters attached
type Client struct {
	transport *messaging.Transport
	manager   *rabbitmq.ConnectionManager
	metrics   *monitor.MetricsCollector
	cfg       config.Config
	logger    *slog.Logger
}

// backendFactory builds the publisher for one transport type
type backendFactory func(cfg config.Config, opts *clientConfig) (messaging.Publisher, *rabbitmq.ConnectionManager, error)

var backends = map[string]backendFactory{
	config.TypeRabbitMQ: newRabbitMQBackend,
}

// New validates cfg and builds the transport. Nothing is dialed until the
// first write.
func New(cfg config.Config, options ...ClientOption) (*Client, error) {
	opts := &clientConfig{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(opts)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &messaging.ConfigError{Err: err}
	}

	factory, ok := backends[cfg.Type]
	if !ok {
		return nil, &messaging.ConfigError{Option: "type", Reason: "unknown transport type requested: " + cfg.Type}
	}

	router, err := newRouter(cfg)
	if err != nil {
		return nil, err
	}

	transformer, err := messaging.NewTransformer(router,
		messaging.WithFields(cfg.Fields...),
		messaging.WithEnvelope(cfg.WrapWith),
		messaging.WithPlaceholder(placeholder(cfg)),
	)
	if err != nil {
		return nil, err
	}

	publisher, manager, err := factory(cfg, opts)
	if err != nil {
		return nil, err
	}

	metrics := monitor.NewMetricsCollector()
	if manager != nil {
		manager.Subscribe(metrics)
	}

	transportOpts := []messaging.TransportOption{
		messaging.WithTransportLogger(opts.logger),
		messaging.WithWriteObserver(metrics),
	}
	if opts.tracer != nil {
		transportOpts = append(transportOpts, messaging.WithTracer(opts.tracer))
	}

	opts.logger.Info("transport configured",
		"type", cfg.Type,
		"uri", cfg.Redacted().URI,
		"exchange", cfg.Exchange,
		"routing", router.Mode().String(),
		"fields", cfg.Fields,
	)

	return &Client{
		transport: messaging.NewTransport(publisher, transformer, transportOpts...),
		manager:   manager,
		metrics:   metrics,
		cfg:       cfg,
		logger:    opts.logger,
	}, nil
}

func placeholder(cfg config.Config) string {
	if cfg.Placeholder == "" {
		return config.DefaultPlaceholder
	}
	return cfg.Placeholder
}

func newRouter(cfg config.Config) (*messaging.Router, error) {
	switch {
	case cfg.Queue != "":
		return messaging.NewFixedRouter(cfg.Exchange, cfg.Queue)
	case cfg.QueuePattern != "":
		return messaging.NewPatternRouter(cfg.Exchange, cfg.QueuePattern, cfg.RouteField)
	default:
		return messaging.NewMapRouter(cfg.Exchange, cfg.QueueMap, cfg.RouteField)
	}
}

func newRabbitMQBackend(cfg config.Config, opts *clientConfig) (messaging.Publisher, *rabbitmq.ConnectionManager, error) {
	compressor, err := serialization.Lookup(cfg.Compression)
	if err != nil {
		return nil, nil, &messaging.ConfigError{Option: "compression", Reason: "unsupported", Err: err}
	}

	backoff, err := reliability.ParseBackoff(cfg.Backoff, cfg.BackoffBase)
	if err != nil {
		return nil, nil, &messaging.ConfigError{Option: "backoff", Reason: "unsupported", Err: err}
	}

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithMaxRetries(cfg.MaxTriesToReconnect),
		rabbitmq.WithBackoff(backoff),
	}
	connOpts = append(connOpts, opts.connectionOptions...)

	publisher := rabbitmqTransport.NewPublisher(cfg.URI,
		rabbitmqTransport.WithLogger(opts.logger),
		rabbitmqTransport.WithCompressor(compressor),
		rabbitmqTransport.WithAppID(opts.appID),
		rabbitmqTransport.WithConnectionOptions(connOpts...),
	)
	return publisher, publisher.Manager(), nil
}

// Transport returns the write/close facade
func (c *Client) Transport() *messaging.Transport {
	return c.transport
}

// Metrics returns the counters fed by the transport and connection
func (c *Client) Metrics() *monitor.MetricsCollector {
	return c.metrics
}

// Config returns the normalized configuration
func (c *Client) Config() config.Config {
	return c.cfg
}

// Subscribe registers a listener for connection events
func (c *Client) Subscribe(l rabbitmqTransport.Listener) string {
	if c.manager == nil {
		return ""
	}
	return c.manager.Subscribe(l)
}

// Write ships one record
func (c *Client) Write(ctx context.Context, record []byte) error {
	return c.transport.Write(ctx, record)
}

// Close drains and closes the transport, then writes the metrics file when
// one is configured
func (c *Client) Close(ctx context.Context) error {
	err := c.transport.Close(ctx)
	if c.cfg.MetricsFile != "" {
		if werr := c.metrics.WriteTextfile(c.cfg.MetricsFile); werr != nil {
			err = errors.Join(err, fmt.Errorf("failed to write metrics: %w", werr))
		}
	}
	return err
}

// clientConfig holds client configuration
type clientConfig struct {
	logger            *slog.Logger
	tracer            trace.Tracer
	appID             string
	connectionOptions []rabbitmqTransport.ConnectionOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithTracer sets the tracer used for write spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracer = tracer
	}
}

// WithAppID sets the app-id property of published messages
func WithAppID(id string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.appID = id
	}
}

// WithConnectionOptions passes options to the connection manager
func WithConnectionOptions(opts ...rabbitmqTransport.ConnectionOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionOptions = append(cfg.connectionOptions, opts...)
	}
}
