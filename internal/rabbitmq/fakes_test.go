package rabbitmq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errBrokerNack = errors.New("broker nack")

// fakeBroker implements Dialer and records every call made through the
// connections and channels it hands out.
type fakeBroker struct {
	mu        sync.Mutex
	dials     int
	dialErrs  []error
	publishes int
	onPublish func(n int) error
	depths    []int
	calls     []string
	notifies  []chan *amqp.Error
}

func (b *fakeBroker) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *fakeBroker) Dial(ctx context.Context, url string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	b.calls = append(b.calls, "dial")
	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeConnection{broker: b}, nil
}

func (b *fakeBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) Publishes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes
}

func (b *fakeBroker) Calls(filter ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	keep := make(map[string]bool, len(filter))
	for _, f := range filter {
		keep[f] = true
	}

	var out []string
	for _, c := range b.calls {
		if len(keep) == 0 || keep[c] {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBroker) Count(call string) int {
	return len(b.Calls(call))
}

// breakLink simulates the broker dropping the most recent connection
func (b *fakeBroker) breakLink(err *amqp.Error) {
	b.mu.Lock()
	ch := b.notifies[len(b.notifies)-1]
	b.mu.Unlock()

	ch <- err
	close(ch)
}

type fakeConnection struct {
	broker *fakeBroker
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.broker.record("channel")
	return &fakeChannel{broker: c.broker}, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.notifies = append(c.broker.notifies, receiver)
	return receiver
}

func (c *fakeConnection) Close() error {
	c.broker.record("conn.close")
	return nil
}

type fakeChannel struct {
	broker *fakeBroker
}

func (c *fakeChannel) Confirm(noWait bool) error {
	c.broker.record("confirm")
	return nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	b := c.broker

	b.mu.Lock()
	b.publishes++
	n := b.publishes
	hook := b.onPublish
	b.calls = append(b.calls, "publish")
	b.mu.Unlock()

	if hook != nil {
		return hook(n)
	}
	return nil
}

func (c *fakeChannel) Pending() int {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, "pending")
	if len(b.depths) == 0 {
		return 0
	}
	d := b.depths[0]
	if len(b.depths) > 1 {
		b.depths = b.depths[1:]
	}
	return d
}

func (c *fakeChannel) Close() error {
	c.broker.record("channel.close")
	return nil
}

// failFirst fails the first n publishes with errBrokerNack
func failFirst(n int) func(int) error {
	return func(call int) error {
		if call <= n {
			return errBrokerNack
		}
		return nil
	}
}

// eventRecorder is a Listener collecting events
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnConnectionEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *eventRecorder) Of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
