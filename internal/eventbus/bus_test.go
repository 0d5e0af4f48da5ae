package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	ticks, unsub := b.Subscribe(4, "tick")
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "answer"})
	b.Publish(Event{Type: "tick", Data: 2})

	select {
	case e := <-ticks:
		if e.Type != "tick" || e.Data != 2 || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("tick not delivered")
	}
	if len(ticks) != 0 {
		t.Fatalf("filtered subscriber got %d extra events", len(ticks))
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(all))
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	b.Publish(Event{Type: "x"})
	if b.Dropped() != 0 {
		t.Fatalf("publish after unsubscribe counted a drop")
	}
}
