// Package eventbus implements the in-process event bus (C8): typed
// publish/subscribe across topics, with an optional NATS fan-out that
// mirrors every published topic for cross-process delivery.
package eventbus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/telemetry"
)

// Handler processes one delivered event. A handler that panics is
// recovered per-delivery; it never takes down the subscriber's goroutine.
type Handler func(ctx context.Context, payload core.Value)

// Fanout is the optional external transport (NATS) a Bus mirrors
// publishes to. A nil Fanout means the bus is purely in-process.
type Fanout interface {
	Publish(ctx context.Context, topic string, payload core.Value) error
	Close() error
}

// Config configures a Bus.
type Config struct {
	Logger    core.Logger
	Fanout    Fanout
	QueueSize int // per-subscriber channel buffer, default 64
}

type subscriber struct {
	id      string
	ch      chan event
	handler Handler
	done    chan struct{}
}

type event struct {
	ctx     context.Context
	payload core.Value
}

// Bus is a typed, topic-addressed publish/subscribe hub. Each subscriber
// gets a dedicated goroutine and buffered channel so one slow consumer
// cannot block delivery to others, and deliveries to that subscriber
// arrive strictly in publish order.
type Bus struct {
	cfg Config

	mu   sync.RWMutex
	subs map[string]map[string]*subscriber // topic -> subscription id -> subscriber
	seq  int

	// fanoutWarnLimiter throttles the "fanout publish failed" log line so a
	// downed NATS connection doesn't flood logs once per Publish call.
	fanoutWarnLimiter *telemetry.RateLimiter
}

// New constructs a Bus.
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(core.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("eventbus")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Bus{
		cfg:               cfg,
		subs:              make(map[string]map[string]*subscriber),
		fanoutWarnLimiter: telemetry.NewRateLimiter(5 * time.Second),
	}
}

// Subscribe registers handler to receive every Publish on topic. It returns
// a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &subscriber{
		id:      topicSeqID(topic, b.seq),
		ch:      make(chan event, b.cfg.QueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscriber)
	}
	b.subs[topic][sub.id] = sub

	go b.runSubscriber(sub)
	return sub.id
}

// Unsubscribe stops delivery to a previously returned subscription id and
// drains its goroutine.
func (b *Bus) Unsubscribe(topic, subscriptionID string) {
	b.mu.Lock()
	sub, ok := b.subs[topic][subscriptionID]
	if ok {
		delete(b.subs[topic], subscriptionID)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
		<-sub.done
	}
}

// Publish delivers payload to every subscriber of topic, non-blocking per
// subscriber (a full queue drops the event for that subscriber and logs a
// warning rather than stalling the publisher), and mirrors to the
// configured Fanout, if any, best-effort.
func (b *Bus) Publish(ctx context.Context, topic string, payload core.Value) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event{ctx: ctx, payload: payload}:
		default:
			b.cfg.Logger.Warn("subscriber queue full, dropping event", map[string]interface{}{"topic": topic, "subscription_id": sub.id})
		}
	}

	if b.cfg.Fanout != nil {
		if err := b.cfg.Fanout.Publish(ctx, topic, payload); err != nil && b.fanoutWarnLimiter.Allow() {
			b.cfg.Logger.Warn("fanout publish failed", map[string]interface{}{"topic": topic, "error": err.Error()})
		}
	}
}

func (b *Bus) runSubscriber(sub *subscriber) {
	defer close(sub.done)
	for ev := range sub.ch {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev event) {
	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("event handler panicked", map[string]interface{}{"subscription_id": sub.id, "panic": r})
		}
	}()
	sub.handler(ev.ctx, ev.payload)
}

// Close unsubscribes every subscriber and closes the fanout, if any.
func (b *Bus) Close() error {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string]map[string]*subscriber)
	b.mu.Unlock()

	for _, topicSubs := range all {
		for _, sub := range topicSubs {
			close(sub.ch)
			<-sub.done
		}
	}

	if b.cfg.Fanout != nil {
		return b.cfg.Fanout.Close()
	}
	return nil
}

func topicSeqID(topic string, seq int) string {
	return topic + "#" + strconv.Itoa(seq)
}
