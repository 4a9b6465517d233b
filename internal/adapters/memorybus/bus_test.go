package memorybus

import (
	"testing"
	"time"
)

func TestBus_SubscribeFiltersTopics(t *testing.T) {
	b := New()
	all, cancelAll := b.Subscribe()
	defer cancelAll()
	done, cancelDone := b.Subscribe("recording.completed")
	defer cancelDone()

	b.Publish("recording.started", []byte("1"))
	b.Publish("recording.completed", []byte("2"))

	for _, want := range []string{"recording.started", "recording.completed"} {
		select {
		case evt := <-all:
			if evt.Topic != want {
				t.Fatalf("all: want %q, got %q", want, evt.Topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("all: missing %q", want)
		}
	}

	select {
	case evt := <-done:
		if evt.Topic != "recording.completed" || string(evt.Payload) != "2" {
			t.Fatalf("filtered: unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered: missing event")
	}
	select {
	case evt := <-done:
		t.Fatalf("filtered: unexpected extra event %+v", evt)
	default:
	}
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	// cancel après Close ne doit pas paniquer (double close).
	cancel()
	b.Publish("recording.started", nil)

	late, lateCancel := b.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Fatalf("expected closed channel for late subscriber")
	}
}
