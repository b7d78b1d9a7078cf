// Package rabbitmq is the RabbitMQ backend of the log shipper. It turns a
// destination and shaped body into a persistent AMQP message and publishes
// it through a ConnectionManager with publisher confirms.
package rabbitmq
