// Package events implements the in-process pub/sub broker that decouples
// traffic sources from the analyzer and the analyzer from push consumers.
package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Topics carried by the broker. Versioned so payload schema changes can
// coexist during upgrades.
const (
	TopicTraffic      = "sh.telemetry.traffic.v1"
	TopicAlerts       = "sh.alerts.v1"
	TopicGraphChanges = "sh.graph_changes.v1"
	TopicResponses    = "sh.responses.v1"
)

// DefaultQueueSize is the per-subscriber queue depth. Publishing to a full
// queue drops the message for that subscriber only.
const DefaultQueueSize = 4096

// Handler consumes messages for one subscription. Handlers for the same
// subscription run sequentially in publish order.
type Handler func(msg any)

// Subscription identifies one registered handler. Close it to stop delivery.
type Subscription struct {
	broker  *Broker
	topic   string
	queue   chan any
	handler Handler
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

// Dropped returns how many messages were discarded because this
// subscription's queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and stops its delivery goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			s.handler(msg)
		}
	}
}

// Broker is a topic-based fan-out bus. Publish never blocks; slow
// subscribers lose messages individually and the loss is counted.
type Broker struct {
	mu        sync.RWMutex
	topics    map[string]map[*Subscription]struct{}
	queueSize int
	published atomic.Uint64
	dropped   atomic.Uint64
	logger    *zap.SugaredLogger
	closed    bool
}

// NewBroker creates a broker with the given per-subscriber queue size.
// queueSize <= 0 selects DefaultQueueSize.
func NewBroker(queueSize int, logger *zap.SugaredLogger) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broker{
		topics:    make(map[string]map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers handler for topic and starts its delivery goroutine.
func (b *Broker) Subscribe(topic string, handler Handler) *Subscription {
	sub := &Subscription{
		broker:  b,
		topic:   topic,
		queue:   make(chan any, b.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run()
	return sub
}

// Publish delivers msg to every subscriber of topic without blocking.
func (b *Broker) Publish(topic string, msg any) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Debugw("broker queue full, message dropped", "topic", topic)
		}
	}
}

// Published returns the total number of Publish calls.
func (b *Broker) Published() uint64 { return b.published.Load() }

// Dropped returns the total messages dropped across all subscribers.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Close stops all subscriptions. Publish after Close is a no-op delivery.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.topics {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.topics = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}
