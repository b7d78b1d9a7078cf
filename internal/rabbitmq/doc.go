// Package rabbitmq provides the broker side of the log shipper.
//
// This package includes:
//   - ConnectionManager: owns one connection and its confirming channel,
//     connects on demand, reconnects with backoff on publish failure and
//     drains unconfirmed messages before closing
//   - Dialer/Connection/Channel: the narrow view of amqp091-go the manager
//     works against, with AMQPDialer as the production implementation
//   - Listener registry: connect, disconnect and reconnecting notifications
//
// The reconnect budget is shared by all writers of a manager. It is reset by
// every successful publish, so only an unbroken streak of failures can
// exhaust it. Concurrent writers that fail together wait for a single
// reconnect instead of each redialing.
package rabbitmq
