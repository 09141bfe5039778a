package eventbus

import (
	"testing"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: JobFired})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != JobFired || e.Time.IsZero() {
			t.Fatalf("event = %+v, want stamped %s", e, JobFired)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	unsub()
	unsub()

	var got []string
	for e := range ch {
		got = append(got, e.Type)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("received %v, want [a]", got)
	}
	b.Publish(Event{Type: "after-unsubscribe"})
}
