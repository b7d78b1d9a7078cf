package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens broker connections. The default implementation dials with
// amqp091-go; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Connection, error)
}

// Connection is the subset of *amqp.Connection the manager relies on
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Channel is a publish channel that can be switched to confirm mode.
// Publish blocks until the broker confirms the message. Pending reports
// how many messages are on the channel awaiting confirmation.
type Channel interface {
	Confirm(noWait bool) error
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Pending() int
	Close() error
}

// AMQPDialer dials RabbitMQ with amqp091-go
type AMQPDialer struct {
	Heartbeat      time.Duration
	ConnectionName string
}

// Dial implements Dialer
func (d AMQPDialer) Dial(ctx context.Context, url string) (Connection, error) {
	cfg := amqp.Config{
		Heartbeat: d.Heartbeat,
		Locale:    "en_US",
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if d.ConnectionName != "" {
		cfg.Properties = amqp.Table{"connection_name": d.ConnectionName}
	}

	type result struct {
		conn *amqp.Connection
		err  error
	}
	res := make(chan result, 1)

	go func() {
		conn, err := amqp.DialConfig(url, cfg)
		res <- result{conn: conn, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, r.err
		}
		return &amqpConnection{conn: r.conn}, nil

	case <-ctx.Done():
		// The dial may still succeed; make sure the socket is released.
		go func() {
			if r := <-res; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, ctx.Err())
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelCreationFailed, err)
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error {
	err := c.conn.Close()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

type amqpChannel struct {
	ch      *amqp.Channel
	pending atomic.Int64
}

func (c *amqpChannel) Confirm(noWait bool) error {
	return c.ch.Confirm(noWait)
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.pending.Add(1)
	defer c.pending.Add(-1)

	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return err
	}
	// nil when the channel is not in confirm mode
	if dc == nil {
		return nil
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrPublishTimeout, err)
		}
		return err
	}
	if !acked {
		return ErrPublishNotConfirmed
	}
	return nil
}

func (c *amqpChannel) Pending() int {
	return int(c.pending.Load())
}

func (c *amqpChannel) Close() error {
	err := c.ch.Close()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
