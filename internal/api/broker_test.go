package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	channel := MerchantChannel("m1")
	ch := b.Subscribe(channel)

	b.Publish(channel, Event{Type: EventRouteOptimized, Data: map[string]any{"x": 1}})
	b.Publish(OrderChannel("o1"), Event{Type: EventEtaUpdated})

	select {
	case got := <-ch:
		if got.Type != EventRouteOptimized || got.Channel != channel {
			t.Fatalf("got %+v", got)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
		if got.TS.IsZero() {
			t.Fatalf("publish must stamp ts")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received event for another channel: %+v", got)
	default:
	}

	b.Unsubscribe(channel, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// a second unsubscribe is a no-op
	b.Unsubscribe(channel, ch)
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("merchant:m1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("merchant:m1", Event{Type: EventEtaUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer len = %d, want %d", len(ch), cap(ch))
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in       string
		kind, id string
		ok       bool
	}{
		{"merchant:m1", "merchant", "m1", true},
		{"order:o-9", "order", "o-9", true},
		{"route:r1", "", "", false},
		{"merchant:", "", "", false},
		{"m1", "", "", false},
	}
	for _, tt := range tests {
		kind, id, ok := parseChannel(tt.in)
		if kind != tt.kind || id != tt.id || ok != tt.ok {
			t.Fatalf("%q: got %q %q %t", tt.in, kind, id, ok)
		}
	}
}
