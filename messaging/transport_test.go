package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type published struct {
	dest Destination
	body string
}

type fakePublisher struct {
	mu        sync.Mutex
	messages  []published
	err       error
	panicWith interface{}
	closes    int
	closeErr  error
}

func (p *fakePublisher) Publish(ctx context.Context, dest Destination, body []byte) error {
	if p.panicWith != nil {
		panic(p.panicWith)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{dest: dest, body: string(body)})
	return nil
}

func (p *fakePublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return p.closeErr
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, dest Destination, body []byte) error {
	args := m.Called(ctx, dest, body)
	return args.Error(0)
}

func (m *mockPublisher) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fakeObserver struct {
	mu      sync.Mutex
	written int
	bytes   int
	failed  []error
}

func (o *fakeObserver) OnWritten(dest Destination, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written++
	o.bytes += size
}

func (o *fakeObserver) OnWriteFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

func newTestTransport(t *testing.T, pub Publisher, opts ...TransportOption) *Transport {
	t.Helper()
	router, err := NewMapRouter("logs", map[string]string{"50": "errors", "default": "info"}, "")
	require.NoError(t, err)
	tr, err := NewTransformer(router)
	require.NoError(t, err)
	return NewTransport(pub, tr, opts...)
}

func TestTransportWrite(t *testing.T) {
	t.Run("shapes and publishes the record", func(t *testing.T) {
		pub := &fakePublisher{}
		obs := &fakeObserver{}
		tp := newTestTransport(t, pub, WithWriteObserver(obs))

		require.NoError(t, tp.Write(context.Background(), []byte(`{"level":50,"msg":"boom"}`)))
		require.NoError(t, tp.Write(context.Background(), []byte(`plain line`)))

		assert.Equal(t, []published{
			{dest: Destination{Queue: "errors", Exchange: "logs"}, body: `{"level":50,"msg":"boom"}`},
			{dest: Destination{Queue: "info", Exchange: "logs"}, body: `{"msg":"plain line"}`},
		}, pub.sent())
		assert.Equal(t, 2, obs.written)
		assert.Equal(t, len(`{"level":50,"msg":"boom"}`)+len(`{"msg":"plain line"}`), obs.bytes)
	})

	t.Run("publish errors are returned", func(t *testing.T) {
		pubErr := errors.New("broker unreachable")
		pub := &fakePublisher{err: pubErr}
		obs := &fakeObserver{}
		tp := newTestTransport(t, pub, WithWriteObserver(obs))

		err := tp.Write(context.Background(), []byte(`{"level":30}`))

		assert.ErrorIs(t, err, pubErr)
		assert.Equal(t, 0, obs.written)
		require.Len(t, obs.failed, 1)
		assert.ErrorIs(t, obs.failed[0], pubErr)
	})

	t.Run("routing errors skip the publisher", func(t *testing.T) {
		pub := &fakePublisher{}
		router, err := NewPatternRouter("", "logs-", "")
		require.NoError(t, err)
		tr, err := NewTransformer(router)
		require.NoError(t, err)
		tp := NewTransport(pub, tr)

		err = tp.Write(context.Background(), []byte(`{"msg":"no level"}`))

		assert.ErrorIs(t, err, ErrNoRoute)
		assert.Empty(t, pub.sent())
	})

	t.Run("panics become errors", func(t *testing.T) {
		pub := &fakePublisher{panicWith: "kaboom"}
		obs := &fakeObserver{}
		tp := newTestTransport(t, pub, WithWriteObserver(obs))

		err := tp.Write(context.Background(), []byte(`{"level":30}`))

		var trErr *TransformError
		require.True(t, errors.As(err, &trErr))
		assert.Equal(t, "write", trErr.Op)
		assert.Contains(t, err.Error(), "kaboom")
		assert.Len(t, obs.failed, 1)
	})
}

func TestTransportPublisherCalls(t *testing.T) {
	t.Run("passes destination and shaped body", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, Destination{Queue: "errors", Exchange: "logs"}, []byte(`{"level":50}`)).Return(nil).Once()
		tp := newTestTransport(t, pub)

		require.NoError(t, tp.Write(context.Background(), []byte(`{"level":50}`)))

		pub.AssertExpectations(t)
	})

	t.Run("unroutable records never reach the publisher", func(t *testing.T) {
		pub := &mockPublisher{}
		router, err := NewMapRouter("", map[string]string{"50": "errors"}, "")
		require.NoError(t, err)
		tr, err := NewTransformer(router)
		require.NoError(t, err)
		tp := NewTransport(pub, tr)

		err = tp.Write(context.Background(), []byte(`{"level":30}`))

		assert.ErrorIs(t, err, ErrNoRoute)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("close is forwarded once per call", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Close", mock.Anything).Return(nil).Twice()
		tp := newTestTransport(t, pub)

		require.NoError(t, tp.Close(context.Background()))
		require.NoError(t, tp.Close(context.Background()))

		pub.AssertExpectations(t)
	})
}

func TestTransportWriteAsync(t *testing.T) {
	t.Run("reports the outcome", func(t *testing.T) {
		pub := &fakePublisher{}
		tp := newTestTransport(t, pub)
		done := make(chan error, 1)

		record := []byte(`{"level":50}`)
		tp.WriteAsync(record, func(err error) { done <- err })
		copy(record, `{"level":10}`)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("write callback not called")
		}
		require.Len(t, pub.sent(), 1)
		assert.Equal(t, "errors", pub.sent()[0].dest.Queue)
	})

	t.Run("nil callback is allowed", func(t *testing.T) {
		pub := &fakePublisher{}
		tp := newTestTransport(t, pub)

		tp.WriteAsync([]byte(`x`), nil)

		assert.Eventually(t, func() bool { return len(pub.sent()) == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestTransportClose(t *testing.T) {
	t.Run("delegates to the publisher", func(t *testing.T) {
		closeErr := errors.New("close failed")
		pub := &fakePublisher{closeErr: closeErr}
		tp := newTestTransport(t, pub)

		assert.ErrorIs(t, tp.Close(context.Background()), closeErr)
		assert.Equal(t, 1, pub.closes)
	})

	t.Run("async close reports the outcome", func(t *testing.T) {
		pub := &fakePublisher{}
		tp := newTestTransport(t, pub)
		done := make(chan error, 1)

		tp.CloseAsync(func(err error) { done <- err })

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("close callback not called")
		}
	})

	t.Run("async close without callback", func(t *testing.T) {
		pub := &fakePublisher{}
		tp := newTestTransport(t, pub)

		tp.CloseAsync(nil)

		assert.Eventually(t, func() bool {
			pub.mu.Lock()
			defer pub.mu.Unlock()
			return pub.closes == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestTransportTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	pub := &fakePublisher{}
	tp := newTestTransport(t, pub, WithTracer(provider.Tracer("test")))

	require.NoError(t, tp.Write(context.Background(), []byte(`{"level":50}`)))
	pub.err = errors.New("nack")
	require.Error(t, tp.Write(context.Background(), []byte(`{"level":30}`)))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "stdoutmq.write", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("messaging.destination.name", "errors"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "nack", spans[1].Status().Description)
}
