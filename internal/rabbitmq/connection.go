package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/stdout-mq/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"
)

// ConnectionState is the lifecycle state of a ConnectionManager
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionManager owns one broker connection and its confirming channel.
// Publishes reconnect transparently within a retry budget, and Close waits
// for every message already on the channel to be confirmed.
//
// Messages retried after a failure may be delivered after messages that
// were submitted later but succeeded on the first attempt.
type ConnectionManager struct {
	url            string
	dialer         Dialer
	logger         *slog.Logger
	maxRetries     int
	backoff        reliability.Backoff
	drainInterval  time.Duration
	confirmTimeout time.Duration
	connectTimeout time.Duration

	// mu guards the connect/teardown sequence together with the retry
	// counter and the fields below it.
	mu           sync.Mutex
	conn         Connection
	ch           Channel
	gen          uint64
	retries      int
	reconnecting chan struct{}

	state     atomic.Int32
	admitted  atomic.Int64
	closing   chan struct{}
	closeOnce sync.Once
	closeSF   singleflight.Group
	listeners listenerRegistry
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithMaxRetries sets how many consecutive reconnects a publish may trigger
// before it fails with ReconnectExhaustedError
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithBackoff sets the delay strategy between reconnect attempts
func WithBackoff(b reliability.Backoff) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.backoff = b
	}
}

// WithDrainInterval sets how often Close re-checks the outstanding depth
func WithDrainInterval(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.drainInterval = d
	}
}

// WithConfirmTimeout bounds the wait for a broker confirm
func WithConfirmTimeout(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.confirmTimeout = d
	}
}

// WithConnectTimeout bounds a single dial
func WithConnectTimeout(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.connectTimeout = d
	}
}

// WithDialer replaces the amqp091-go dialer
func WithDialer(d Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialer = d
	}
}

// NewConnectionManager creates a new connection manager. Nothing is dialed
// until Connect or the first Publish.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dialer:         AMQPDialer{},
		logger:         slog.Default(),
		maxRetries:     3,
		backoff:        reliability.DefaultBackoff(),
		drainInterval:  100 * time.Millisecond,
		confirmTimeout: 5 * time.Second,
		connectTimeout: 30 * time.Second,
		closing:        make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// State returns the current lifecycle state
func (cm *ConnectionManager) State() ConnectionState {
	return ConnectionState(cm.state.Load())
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// Retries returns the current value of the reconnect counter
func (cm *ConnectionManager) Retries() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.retries
}

// Subscribe registers a listener and returns its subscription id
func (cm *ConnectionManager) Subscribe(l Listener) string {
	return cm.listeners.add(l)
}

// Unsubscribe removes a listener; it reports whether the id was known
func (cm *ConnectionManager) Unsubscribe(id string) bool {
	return cm.listeners.remove(id)
}

func (cm *ConnectionManager) setState(s ConnectionState) {
	cm.state.Store(int32(s))
}

// Connect dials the broker and opens a confirming channel. It is a no-op
// when already connected. On failure the manager stays disconnected so the
// call can be retried.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	connected, err := cm.connectLocked(ctx)
	cm.mu.Unlock()

	if connected {
		cm.listeners.emit(Event{Kind: EventConnected})
	}
	return err
}

// connectLocked reports whether a new connection was established
func (cm *ConnectionManager) connectLocked(ctx context.Context) (bool, error) {
	switch cm.State() {
	case StateConnected:
		return false, nil
	case StateClosing, StateClosed:
		return false, ErrManagerClosed
	}

	cm.setState(StateConnecting)

	conn, ch, err := cm.open(ctx)
	if err != nil {
		cm.setState(StateDisconnected)
		return false, &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err}
	}

	cm.conn = conn
	cm.ch = ch
	cm.gen++
	cm.setState(StateConnected)

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(cm.gen, notify)

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url), "generation", cm.gen)
	return true, nil
}

func (cm *ConnectionManager) open(ctx context.Context) (Connection, Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	conn, err := cm.dialer.Dial(dialCtx, cm.url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, &ChannelError{Op: "enable confirms", Err: err}
	}

	return conn, ch, nil
}

// watch turns a broken-link notification into a disconnect event
func (cm *ConnectionManager) watch(gen uint64, notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		// graceful close
		return
	}

	cm.logger.Warn("connection to RabbitMQ lost", "generation", gen, "error", amqpErr)
	cm.listeners.emit(Event{Kind: EventDisconnected, Err: amqpErr})
}

// Publish sends msg and waits for the broker confirm. It connects on demand.
// Failed publishes go through reconnect and are resubmitted until they
// succeed or the reconnect budget is exhausted.
func (cm *ConnectionManager) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	for {
		ch, gen, err := cm.acquire(ctx)
		if err == nil {
			err = cm.publishOnce(ctx, ch, exchange, routingKey, msg)
			if err == nil {
				cm.resetRetries()
				return nil
			}
			err = &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
		}
		if IsFatal(err) {
			return err
		}

		cm.logger.Debug("publish failed", "exchange", exchange, "routingKey", routingKey, "error", err)

		if err := cm.reconnect(ctx, gen, err); err != nil {
			return err
		}
	}
}

// acquire returns the live channel, connecting first if needed. While a
// reconnect is in flight it fails so the caller joins that reconnect.
func (cm *ConnectionManager) acquire(ctx context.Context) (Channel, uint64, error) {
	cm.mu.Lock()

	gen := cm.gen
	if cm.State() != StateConnected {
		if cm.reconnecting != nil {
			cm.mu.Unlock()
			return nil, gen, ErrConnectionNotReady
		}

		connected, err := cm.connectLocked(ctx)
		if err != nil {
			cm.mu.Unlock()
			return nil, gen, err
		}
		if connected {
			defer cm.listeners.emit(Event{Kind: EventConnected})
		}
	}

	cm.admitted.Add(1)
	ch, gen := cm.ch, cm.gen
	cm.mu.Unlock()

	return ch, gen, nil
}

func (cm *ConnectionManager) publishOnce(ctx context.Context, ch Channel, exchange, routingKey string, msg amqp.Publishing) error {
	defer cm.admitted.Add(-1)

	pctx, cancel := context.WithTimeout(ctx, cm.confirmTimeout)
	defer cancel()

	return ch.Publish(pctx, exchange, routingKey, msg)
}

func (cm *ConnectionManager) resetRetries() {
	cm.mu.Lock()
	cm.retries = 0
	cm.mu.Unlock()
}

// reconnect handles a publish failure observed on connection generation
// gen. A nil return means the pending write should be resubmitted.
func (cm *ConnectionManager) reconnect(ctx context.Context, gen uint64, cause error) error {
	for {
		cm.mu.Lock()

		if s := cm.State(); s == StateClosing || s == StateClosed {
			cm.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrManagerClosed, cause)
		}

		// Someone else already replaced the connection this write failed on.
		if cm.gen != gen && cm.State() == StateConnected {
			cm.mu.Unlock()
			return nil
		}

		if wait := cm.reconnecting; wait != nil {
			cm.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if cm.retries >= cm.maxRetries {
			attempts := cm.retries
			cm.mu.Unlock()
			cm.logger.Error("max reconnection attempts reached", "attempts", attempts, "error", cause)
			return &ReconnectExhaustedError{Attempts: attempts, Err: cause}
		}

		cm.retries++
		attempt := cm.retries
		cm.dropLocked()
		wait := make(chan struct{})
		cm.reconnecting = wait
		cm.mu.Unlock()

		err := cm.redial(ctx, attempt, cause)

		cm.mu.Lock()
		cm.reconnecting = nil
		close(wait)
		cm.mu.Unlock()

		if err == nil {
			return nil
		}
		if errors.Is(err, ErrManagerClosed) || ctx.Err() != nil {
			return err
		}
		// gen is still the failed generation, so a connection opened by
		// another caller meanwhile is picked up on the next pass.
		cause = err
	}
}

// dropLocked forgets the current connection and channel. They are presumed
// broken, so nothing waits on their shutdown.
func (cm *ConnectionManager) dropLocked() {
	if cm.conn != nil {
		go func(conn Connection) { _ = conn.Close() }(cm.conn)
	}
	cm.conn = nil
	cm.ch = nil
	cm.setState(StateDisconnected)
}

func (cm *ConnectionManager) redial(ctx context.Context, attempt int, cause error) error {
	delay := cm.backoff.Delay(attempt)

	cm.logger.Warn("attempting to reconnect",
		"attempt", attempt,
		"maxRetries", cm.maxRetries,
		"delay", delay,
		"cause", cause)
	cm.listeners.emit(Event{Kind: EventReconnecting, Attempt: attempt, Delay: delay, Err: cause})

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-cm.closing:
			return fmt.Errorf("%w: %w", ErrManagerClosed, cause)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return cm.Connect(ctx)
}

// Close drains and shuts the connection down. Concurrent calls share one
// shutdown; calls after it finished return immediately.
func (cm *ConnectionManager) Close(ctx context.Context) error {
	_, err, _ := cm.closeSF.Do("close", func() (interface{}, error) {
		return nil, cm.shutdown(ctx)
	})
	return err
}

// CloseAsync runs Close in the background and calls done exactly once
func (cm *ConnectionManager) CloseAsync(done func(error)) {
	go func() {
		err := cm.Close(context.Background())
		if done != nil {
			done(err)
		}
	}()
}

func (cm *ConnectionManager) shutdown(ctx context.Context) error {
	cm.mu.Lock()

	if cm.State() == StateClosed {
		cm.mu.Unlock()
		return nil
	}
	cm.closeOnce.Do(func() { close(cm.closing) })

	if cm.conn == nil {
		cm.setState(StateClosed)
		cm.mu.Unlock()
		cm.logger.Info("connection manager closed", "connected", false)
		return nil
	}

	cm.setState(StateClosing)
	conn, ch := cm.conn, cm.ch
	cm.mu.Unlock()

	if err := cm.drain(ctx, ch); err != nil {
		return fmt.Errorf("failed to drain channel: %w", err)
	}

	var errs []error
	if err := ch.Close(); err != nil {
		errs = append(errs, &ChannelError{Op: "close", Err: err})
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, &ConnectionError{Op: "close", URL: SanitizeURL(cm.url), Err: err})
	}

	cm.mu.Lock()
	cm.conn = nil
	cm.ch = nil
	cm.setState(StateClosed)
	cm.mu.Unlock()

	cm.logger.Info("connection manager closed", "connected", true)
	return errors.Join(errs...)
}

// drain waits until no accepted message is waiting for its confirm
func (cm *ConnectionManager) drain(ctx context.Context, ch Channel) error {
	ticker := time.NewTicker(cm.drainInterval)
	defer ticker.Stop()

	for {
		depth := ch.Pending() + int(cm.admitted.Load())
		if depth <= 0 {
			return nil
		}

		cm.logger.Debug("waiting for outstanding publishes", "depth", depth)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
