package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

// Notifier tracks ingest counters and wakes subscribers when new telemetry
// arrives. Counters are atomic so polling readers never take a lock.
type Notifier struct {
	spansReceived   atomic.Uint64
	metricsReceived atomic.Uint64

	// Incremented on any telemetry receipt.
	generation atomic.Uint64

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64

	startTime time.Time
}

// NewNotifier creates a notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[uint64]chan struct{}),
		startTime:   time.Now(),
	}
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel is buffered with capacity 1 so bursts of ingest coalesce into
// a single wakeup.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	n.subscriberMu.Lock()
	defer n.subscriberMu.Unlock()

	id := n.nextSubscriberID
	n.nextSubscriberID++

	ch := make(chan struct{}, 1)
	n.subscribers[id] = ch

	unsubscribe := func() {
		n.subscriberMu.Lock()
		defer n.subscriberMu.Unlock()
		delete(n.subscribers, id)
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of live subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.subscriberMu.Lock()
	defer n.subscriberMu.Unlock()
	return len(n.subscribers)
}

func (n *Notifier) notify() {
	n.subscriberMu.Lock()
	defer n.subscriberMu.Unlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Already pending.
		}
	}
}

// RecordSpans counts received spans and notifies subscribers.
func (n *Notifier) RecordSpans(count int) {
	if count <= 0 {
		return
	}
	n.spansReceived.Add(uint64(count))
	n.generation.Add(1)
	n.notify()
}

// RecordMetrics counts received metrics and notifies subscribers.
func (n *Notifier) RecordMetrics(count int) {
	if count <= 0 {
		return
	}
	n.metricsReceived.Add(uint64(count))
	n.generation.Add(1)
	n.notify()
}

// SpansReceived returns the total number of spans received.
func (n *Notifier) SpansReceived() uint64 {
	return n.spansReceived.Load()
}

// MetricsReceived returns the total number of metrics received.
func (n *Notifier) MetricsReceived() uint64 {
	return n.metricsReceived.Load()
}

// Generation changes whenever telemetry is received.
func (n *Notifier) Generation() uint64 {
	return n.generation.Load()
}

// UptimeSeconds returns seconds since the notifier was created.
func (n *Notifier) UptimeSeconds() float64 {
	return time.Since(n.startTime).Seconds()
}
