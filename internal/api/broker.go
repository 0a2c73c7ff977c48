package api

import (
	"strings"
	"sync"
	"time"
)

// Event types published to subscribers.
const (
	EventRouteOptimized  = "route.optimized"
	EventSequenceUpdated = "sequence.updated"
	EventEtaUpdated      = "eta.updated"
	EventRouteStatus     = "route.status"
)

// Event is one broadcast message. Channel is filled in by the broker.
type Event struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel"`
	Data    map[string]any `json:"data"`
	TS      time.Time      `json:"ts"`
}

func MerchantChannel(id string) string { return "merchant:" + id }
func OrderChannel(id string) string    { return "order:" + id }

// parseChannel splits "merchant:m1" into ("merchant", "m1").
func parseChannel(channel string) (kind, id string, ok bool) {
	kind, id, ok = strings.Cut(channel, ":")
	if !ok || id == "" || (kind != "merchant" && kind != "order") {
		return "", "", false
	}
	return kind, id, true
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // channel -> set of subscribers
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(channel string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = map[chan Event]struct{}{}
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(channel string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[channel]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, channel)
	}
	close(ch)
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Broker) Publish(channel string, evt Event) {
	evt.Channel = channel
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	b.mu.Lock()
	for ch := range b.subs[channel] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
