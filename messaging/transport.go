package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glimte/stdout-mq/messaging"

// Publisher delivers a shaped body to its destination. Publish returns only
// once the broker has taken responsibility for the message or the backend
// has given up on it.
type Publisher interface {
	Publish(ctx context.Context, dest Destination, body []byte) error
	Close(ctx context.Context) error
}

// WriteObserver is told about the outcome of every write
type WriteObserver interface {
	OnWritten(dest Destination, size int)
	OnWriteFailed(err error)
}

// Transport is the write-side facade: it shapes records and hands them to a
// publisher. It carries no state of its own beyond its collaborators.
type Transport struct {
	publisher   Publisher
	transformer *Transformer
	logger      *slog.Logger
	tracer      trace.Tracer
	observers   []WriteObserver
}

// TransportOption configures a Transport
type TransportOption func(*Transport)

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithTracer sets the tracer used for write spans
func WithTracer(tracer trace.Tracer) TransportOption {
	return func(t *Transport) {
		t.tracer = tracer
	}
}

// WithWriteObserver registers an observer of write outcomes
func WithWriteObserver(o WriteObserver) TransportOption {
	return func(t *Transport) {
		t.observers = append(t.observers, o)
	}
}

// NewTransport creates a transport over publisher
func NewTransport(publisher Publisher, transformer *Transformer, opts ...TransportOption) *Transport {
	t := &Transport{
		publisher:   publisher,
		transformer: transformer,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Write shapes one record and publishes it. It returns after the broker has
// confirmed the message, or with the error that ended the attempt.
func (t *Transport) Write(ctx context.Context, record []byte) (err error) {
	ctx, span := t.tracer.Start(ctx, "stdoutmq.write",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.Int("record.size", len(record))),
	)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic while writing record",
				"panic", r,
				"stack", string(debug.Stack()))
			err = &TransformError{Op: "write", Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.notifyFailed(err)
		}
		span.End()
	}()

	shaped, err := t.transformer.Transform(record)
	if err != nil {
		return err
	}

	span.SetAttributes(
		attribute.String("messaging.destination.name", shaped.Destination.Queue),
		attribute.String("messaging.rabbitmq.exchange", shaped.Destination.Exchange),
		attribute.Int("messaging.message.body.size", len(shaped.Body)),
	)

	if err := t.publisher.Publish(ctx, shaped.Destination, shaped.Body); err != nil {
		return err
	}

	for _, o := range t.observers {
		o.OnWritten(shaped.Destination, len(shaped.Body))
	}
	return nil
}

// WriteAsync writes record in the background and reports the outcome to
// done, which may be nil. The record is copied before returning.
func (t *Transport) WriteAsync(record []byte, done func(error)) {
	buf := append([]byte(nil), record...)
	go func() {
		err := t.Write(context.Background(), buf)
		if done != nil {
			done(err)
		}
	}()
}

// Close shuts the publisher down. Messages already accepted are drained
// first.
func (t *Transport) Close(ctx context.Context) error {
	return t.publisher.Close(ctx)
}

// CloseAsync closes in the background and reports the outcome to done,
// which may be nil
func (t *Transport) CloseAsync(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	go func() {
		done(t.Close(context.Background()))
	}()
}

func (t *Transport) notifyFailed(err error) {
	for _, o := range t.observers {
		o.OnWriteFailed(err)
	}
}
