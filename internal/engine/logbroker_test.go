package engine_test

import (
	"strings"
	"testing"

	"github.com/elisa-tech/BASIL-sub001/internal/engine"
)

func drain(ch <-chan string) string {
	var b strings.Builder
	for d := range ch {
		b.WriteString(d)
	}
	return b.String()
}

func TestLogBrokerDeliversDeltasInOrder(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe(7)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(7)
	defer unsub2()

	b.Publish(7, "Test run started\n")
	b.Publish(7, "Poll 1: running\n")
	b.Publish(8, "other run\n")
	b.Close(7)

	want := "Test run started\nPoll 1: running\n"
	if got := drain(ch1); got != want {
		t.Errorf("subscriber 1 got %q, want %q", got, want)
	}
	if got := drain(ch2); got != want {
		t.Errorf("subscriber 2 got %q, want %q", got, want)
	}
}

func TestLogBrokerSubscribeAfterClose(t *testing.T) {
	b := engine.NewLogBroker()
	b.Close(7)

	ch, unsub := b.Subscribe(7)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("subscriber of a finished run should get a closed channel")
	}

	// Publishing to a finished run is ignored.
	b.Publish(7, "late\n")
}

func TestLogBrokerUnsubscribe(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe(7)
	unsub()

	b.Publish(7, "after unsubscribe\n")
	b.Close(7)

	select {
	case d, ok := <-ch:
		if ok {
			t.Errorf("got %q after unsubscribe", d)
		}
	default:
	}
}

func TestLogBrokerLateSubscriberStartsAtCurrentDelta(t *testing.T) {
	b := engine.NewLogBroker()
	early, unsubEarly := b.Subscribe(7)
	defer unsubEarly()

	b.Publish(7, "a")
	late, unsubLate := b.Subscribe(7)
	defer unsubLate()
	b.Publish(7, "b")
	b.Close(7)

	if got := drain(early); got != "ab" {
		t.Errorf("early subscriber got %q, want %q", got, "ab")
	}
	if got := drain(late); got != "b" {
		t.Errorf("late subscriber got %q, want %q", got, "b")
	}
}

func TestLogBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe(7)
	defer unsub()

	for range 100 {
		b.Publish(7, "x")
	}
	b.Close(7)

	if got := len(drain(ch)); got != 64 {
		t.Errorf("buffered %d deltas, want 64", got)
	}
}

func TestLogBrokerUnknownRun(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish(99, "nobody listens")
	b.Close(99)
}
