package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/stdout-mq/internal/rabbitmq"
	"github.com/glimte/stdout-mq/messaging"
	"github.com/glimte/stdout-mq/serialization"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher implements messaging.Publisher on top of a ConnectionManager.
// The connection is opened by the first publish.
type Publisher struct {
	manager    *rabbitmq.ConnectionManager
	compressor serialization.Compressor
	appID      string
	logger     *slog.Logger
}

// PublisherConfig holds configuration for the publisher
type PublisherConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	Compressor        serialization.Compressor
	AppID             string
	Logger            *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*PublisherConfig)

// WithConnectionOptions sets connection manager options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithCompressor compresses bodies and tags their content-encoding
func WithCompressor(c serialization.Compressor) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.Compressor = c
	}
}

// WithAppID sets the app-id property of every message
func WithAppID(id string) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.AppID = id
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(cfg *PublisherConfig) {
		cfg.Logger = logger
	}
}

// NewPublisher creates a publisher for the broker at url
func NewPublisher(url string, options ...PublisherOption) *Publisher {
	cfg := &PublisherConfig{
		Compressor: serialization.Identity(),
		Logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.Logger)}, cfg.ConnectionOptions...)

	return &Publisher{
		manager:    rabbitmq.NewConnectionManager(url, connOpts...),
		compressor: cfg.Compressor,
		appID:      cfg.AppID,
		logger:     cfg.Logger,
	}
}

// Manager exposes the connection manager, mainly for subscribing to
// connection events
func (p *Publisher) Manager() *rabbitmq.ConnectionManager {
	return p.manager
}

// Publish sends body to the destination queue through its exchange and
// waits for the broker confirm
func (p *Publisher) Publish(ctx context.Context, dest messaging.Destination, body []byte) error {
	encoded, err := p.compressor.Compress(body)
	if err != nil {
		return fmt.Errorf("failed to compress message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: p.compressor.Encoding(),
		DeliveryMode:    amqp.Persistent,
		MessageId:       uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		AppId:           p.appID,
		Body:            encoded,
	}

	return p.manager.Publish(ctx, dest.Exchange, dest.Queue, msg)
}

// Close drains outstanding confirms and closes the connection
func (p *Publisher) Close(ctx context.Context) error {
	return p.manager.Close(ctx)
}

var _ messaging.Publisher = (*Publisher)(nil)
