package engine

import "sync"

// subscriberBufferSize is the channel buffer for each log subscriber.
// Deltas are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogBroker fans out run log deltas to live subscribers. It is safe for
// concurrent use.
//
// Finished runs are kept as closed markers so that a subscriber arriving
// after the run ended gets a closed channel rather than blocking.
type LogBroker struct {
	mu     sync.Mutex
	topics map[int64]*logTopic
}

type logTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[int64]*logTopic),
	}
}

func (b *LogBroker) topic(runID int64) *logTopic {
	t, ok := b.topics[runID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[runID] = t
	}
	return t
}

// Subscribe returns a channel receiving the log deltas of a run and an
// unsubscribe function. The channel is closed when the run finishes, or
// immediately if it already has.
func (b *LogBroker) Subscribe(runID int64) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a log delta to every subscriber of the run without blocking.
func (b *LogBroker) Publish(runID int64, delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- delta:
		default:
		}
	}
}

// Close ends the stream of a run. Subscriber channels are closed and later
// subscribers get a closed channel.
func (b *LogBroker) Close(runID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
