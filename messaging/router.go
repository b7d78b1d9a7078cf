package messaging

import (
	"github.com/valyala/fastjson"
)

// DefaultRouteField is pino's level field
const DefaultRouteField = "level"

// DefaultRouteKey is the map entry used when the message value has no entry
const DefaultRouteKey = "default"

// RoutingMode selects how a destination queue is resolved
type RoutingMode int

const (
	// RouteFixed sends every message to one queue
	RouteFixed RoutingMode = iota
	// RoutePattern appends the route field value to a queue prefix
	RoutePattern
	// RouteMap looks the route field value up in a table
	RouteMap
)

func (m RoutingMode) String() string {
	switch m {
	case RouteFixed:
		return "fixed"
	case RoutePattern:
		return "pattern"
	case RouteMap:
		return "map"
	default:
		return "unknown"
	}
}

// Destination is where one shaped message is published
type Destination struct {
	Queue    string
	Exchange string
}

// Router resolves the destination of a message. It is immutable after
// construction and safe for concurrent use.
type Router struct {
	mode     RoutingMode
	exchange string
	queue    string
	prefix   string
	table    map[string]string
	field    string
}

// NewFixedRouter routes every message to queue
func NewFixedRouter(exchange, queue string) (*Router, error) {
	if queue == "" {
		return nil, &ConfigError{Option: "queue", Reason: "must not be empty"}
	}
	return &Router{mode: RouteFixed, exchange: exchange, queue: queue}, nil
}

// NewPatternRouter routes a message to prefix followed by the value of field.
// An empty field defaults to DefaultRouteField.
func NewPatternRouter(exchange, prefix, field string) (*Router, error) {
	if field == "" {
		field = DefaultRouteField
	}
	return &Router{mode: RoutePattern, exchange: exchange, prefix: prefix, field: field}, nil
}

// NewMapRouter routes a message by looking the value of field up in table,
// falling back to the DefaultRouteKey entry. The table is copied.
func NewMapRouter(exchange string, table map[string]string, field string) (*Router, error) {
	if len(table) == 0 {
		return nil, &ConfigError{Option: "queueMap", Reason: "must contain at least one entry"}
	}
	if field == "" {
		field = DefaultRouteField
	}

	copied := make(map[string]string, len(table))
	for k, q := range table {
		if q == "" {
			return nil, &ConfigError{Option: "queueMap", Reason: "queue for key " + k + " is empty"}
		}
		copied[k] = q
	}
	return &Router{mode: RouteMap, exchange: exchange, table: copied, field: field}, nil
}

// Mode returns the routing mode
func (r *Router) Mode() RoutingMode {
	return r.mode
}

// Field returns the message field inspected by pattern and map modes
func (r *Router) Field() string {
	return r.field
}

// Resolve returns the destination for a parsed message. msg is nil for
// records that are not JSON.
func (r *Router) Resolve(msg *fastjson.Value) (Destination, error) {
	dest := Destination{Exchange: r.exchange}

	switch r.mode {
	case RouteFixed:
		dest.Queue = r.queue
		return dest, nil

	case RoutePattern:
		value, ok := r.lookup(msg)
		if !ok {
			return Destination{}, &RoutingError{Mode: r.mode, Field: r.field}
		}
		dest.Queue = r.prefix + value
		if dest.Queue == "" {
			return Destination{}, &RoutingError{Mode: r.mode, Field: r.field}
		}
		return dest, nil

	case RouteMap:
		value, ok := r.lookup(msg)
		if ok {
			if q, found := r.table[value]; found {
				dest.Queue = q
				return dest, nil
			}
		}
		if q, found := r.table[DefaultRouteKey]; found {
			dest.Queue = q
			return dest, nil
		}
		return Destination{}, &RoutingError{Mode: r.mode, Field: r.field, Value: value}
	}

	return Destination{}, &RoutingError{Mode: r.mode, Field: r.field}
}

func (r *Router) lookup(msg *fastjson.Value) (string, bool) {
	if msg == nil || msg.Type() != fastjson.TypeObject {
		return "", false
	}
	v := msg.Get(r.field)
	if v == nil {
		return "", false
	}
	return valueString(v), true
}
