package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// topicSubscriberQueue is bounded per subscriber. A slow observer gets
// dropped rather than allowed to backpressure every other subscriber on the
// same topic.
const topicSubscriberQueueSize = 64

// topicBus fans JSON-encodable events out to subscribers grouped by topic
// string (e.g. "village/{user_id}" or "council/{session_id}"). It is the
// production Publisher the council engine and the chat runtime push
// observer-visible events through.
type topicBus struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*topicSubscriber]struct{}
}

type topicSubscriber struct {
	topic string
	ch    chan []byte
	// lagged is set once this subscriber has been dropped for falling
	// behind; one subscriber_lagged frame is sent before further events
	// are silently discarded for it.
	lagged bool
}

func newTopicBus(logger *slog.Logger) *topicBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &topicBus{logger: logger, subs: make(map[string]map[*topicSubscriber]struct{})}
}

// Subscribe registers a new observer on topic and returns a channel of
// already-JSON-marshaled frames plus an unsubscribe func.
func (b *topicBus) Subscribe(topic string) (*topicSubscriber, func()) {
	sub := &topicSubscriber{topic: topic, ch: make(chan []byte, topicSubscriberQueueSize)}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*topicSubscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		delete(b.subs[topic], sub)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
		b.mu.Unlock()
		close(sub.ch)
	}
}

// PublishJSON marshals payload and delivers it to every subscriber of topic.
// A subscriber whose queue is full is marked lagged and sent a terminal
// subscriber_lagged frame instead of the event; it is the subscriber's own
// read loop that then closes the connection.
func (b *topicBus) PublishJSON(topic string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("topic bus marshal failed", "topic", topic, "error", err)
		return
	}

	b.mu.Lock()
	subs := make([]*topicSubscriber, 0, len(b.subs[topic]))
	for sub := range b.subs[topic] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.lagged {
			continue
		}
		select {
		case sub.ch <- body:
		default:
			sub.lagged = true
			laggedFrame, _ := json.Marshal(map[string]any{"type": "subscriber_lagged", "topic": topic})
			select {
			case sub.ch <- laggedFrame:
			default:
			}
		}
	}
}
