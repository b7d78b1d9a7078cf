package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/glimte/stdout-mq/internal/rabbitmq"
	"github.com/glimte/stdout-mq/messaging"
)

// Failure reasons used as label values
const (
	ReasonRouting   = "routing"
	ReasonTransform = "transform"
	ReasonExhausted = "reconnect_exhausted"
	ReasonClosed    = "closed"
	ReasonConnect   = "connect"
	ReasonPublish   = "publish"
	ReasonOther     = "other"
)

// MetricsCollector counts shipper activity in memory. It observes writes
// through messaging.WriteObserver and connection changes through
// rabbitmq.Listener.
type MetricsCollector struct {
	mu sync.RWMutex

	// Confirmed messages by queue
	published map[string]int64

	publishedBytes int64

	// Failed writes by reason
	failures map[string]int64

	// Connection events by kind
	events map[string]int64

	startedAt time.Time
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		published: make(map[string]int64),
		failures:  make(map[string]int64),
		events:    make(map[string]int64),
		startedAt: time.Now(),
	}
}

// OnWritten implements messaging.WriteObserver
func (c *MetricsCollector) OnWritten(dest messaging.Destination, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[dest.Queue]++
	c.publishedBytes += int64(size)
}

// OnWriteFailed implements messaging.WriteObserver
func (c *MetricsCollector) OnWriteFailed(err error) {
	reason := FailureReason(err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[reason]++
}

// OnConnectionEvent implements rabbitmq.Listener
func (c *MetricsCollector) OnConnectionEvent(e rabbitmq.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[e.Kind.String()]++
}

// FailureReason classifies a write error
func FailureReason(err error) string {
	var (
		routeErr     *messaging.RoutingError
		transformErr *messaging.TransformError
		connErr      *rabbitmq.ConnectionError
		pubErr       *rabbitmq.PublishError
	)

	switch {
	case errors.As(err, &routeErr):
		return ReasonRouting
	case errors.As(err, &transformErr):
		return ReasonTransform
	case errors.Is(err, rabbitmq.ErrMaxRetriesExceeded):
		return ReasonExhausted
	case errors.Is(err, rabbitmq.ErrManagerClosed):
		return ReasonClosed
	case errors.As(err, &connErr):
		return ReasonConnect
	case errors.As(err, &pubErr):
		return ReasonPublish
	default:
		return ReasonOther
	}
}

// GetMetricsSummary returns a snapshot of all counters
func (c *MetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Published:        make(map[string]int64, len(c.published)),
		PublishedBytes:   c.publishedBytes,
		Failures:         make(map[string]int64, len(c.failures)),
		ConnectionEvents: make(map[string]int64, len(c.events)),
		StartedAt:        c.startedAt,
	}

	for queue, count := range c.published {
		summary.Published[queue] = count
	}
	for reason, count := range c.failures {
		summary.Failures[reason] = count
	}
	for kind, count := range c.events {
		summary.ConnectionEvents[kind] = count
	}

	return summary
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Published        map[string]int64 `json:"published"`
	PublishedBytes   int64            `json:"published_bytes"`
	Failures         map[string]int64 `json:"failures"`
	ConnectionEvents map[string]int64 `json:"connection_events"`
	StartedAt        time.Time        `json:"started_at"`
}

// TotalPublished sums confirmed messages over all queues
func (s MetricsSummary) TotalPublished() int64 {
	var total int64
	for _, n := range s.Published {
		total += n
	}
	return total
}

// TotalFailures sums failed writes over all reasons
func (s MetricsSummary) TotalFailures() int64 {
	var total int64
	for _, n := range s.Failures {
		total += n
	}
	return total
}

// Reset clears all collected metrics
func (c *MetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = make(map[string]int64)
	c.publishedBytes = 0
	c.failures = make(map[string]int64)
	c.events = make(map[string]int64)
}

var (
	_ messaging.WriteObserver = (*MetricsCollector)(nil)
	_ rabbitmq.Listener       = (*MetricsCollector)(nil)
)
