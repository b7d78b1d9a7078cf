package rabbitmq

import (
	"github.com/glimte/stdout-mq/internal/rabbitmq"
	"github.com/glimte/stdout-mq/internal/reliability"
)

// Connection manager types, exported so callers outside this module can
// subscribe to events, tune reconnects and swap the dialer.
type (
	ConnectionManager = rabbitmq.ConnectionManager
	ConnectionOption  = rabbitmq.ConnectionOption
	ConnectionState   = rabbitmq.ConnectionState

	Dialer     = rabbitmq.Dialer
	Connection = rabbitmq.Connection
	Channel    = rabbitmq.Channel
	AMQPDialer = rabbitmq.AMQPDialer

	Event        = rabbitmq.Event
	EventKind    = rabbitmq.EventKind
	Listener     = rabbitmq.Listener
	ListenerFunc = rabbitmq.ListenerFunc

	ConnectionError         = rabbitmq.ConnectionError
	ChannelError            = rabbitmq.ChannelError
	PublishError            = rabbitmq.PublishError
	ReconnectExhaustedError = rabbitmq.ReconnectExhaustedError

	Backoff     = reliability.Backoff
	BackoffFunc = reliability.BackoffFunc
)

const (
	EventConnected    = rabbitmq.EventConnected
	EventDisconnected = rabbitmq.EventDisconnected
	EventReconnecting = rabbitmq.EventReconnecting

	StateDisconnected = rabbitmq.StateDisconnected
	StateConnecting   = rabbitmq.StateConnecting
	StateConnected    = rabbitmq.StateConnected
	StateClosing      = rabbitmq.StateClosing
	StateClosed       = rabbitmq.StateClosed
)

var (
	ErrManagerClosed       = rabbitmq.ErrManagerClosed
	ErrMaxRetriesExceeded  = rabbitmq.ErrMaxRetriesExceeded
	ErrPublishTimeout      = rabbitmq.ErrPublishTimeout
	ErrPublishNotConfirmed = rabbitmq.ErrPublishNotConfirmed
)

// Connection options. WithConnectionLogger is the manager's WithLogger,
// renamed because WithLogger configures the publisher here.
var (
	WithConnectionLogger = rabbitmq.WithLogger
	WithMaxRetries       = rabbitmq.WithMaxRetries
	WithBackoff          = rabbitmq.WithBackoff
	WithDrainInterval    = rabbitmq.WithDrainInterval
	WithConfirmTimeout   = rabbitmq.WithConfirmTimeout
	WithConnectTimeout   = rabbitmq.WithConnectTimeout
	WithDialer           = rabbitmq.WithDialer
)

// Reconnect delay strategies
var (
	NewQuadraticBackoff   = reliability.NewQuadraticBackoff
	NewExponentialBackoff = reliability.NewExponentialBackoff
	NewLinearBackoff      = reliability.NewLinearBackoff
	NewFixedDelay         = reliability.NewFixedDelay
	ParseBackoff          = reliability.ParseBackoff
)
