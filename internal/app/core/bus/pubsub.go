package bus

import (
	"time"

	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
)

// subscriptionBuffer bounds how many undelivered publishes a slow
// subscriber can queue before publish starts dropping for it. Publish must
// never block on a subscriber (spec §4.F: "lost subscribers never block
// publishers").
const subscriptionBuffer = 64

type subscription struct {
	name string
	ch   chan message.Envelope
}

// Subscribe registers name for topic and returns the channel it will
// receive published envelopes on. Per-publisher-per-topic FIFO is
// guaranteed; ordering across different publishers on the same topic is
// not.
func (b *Bus) Subscribe(name, topic string) <-chan message.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{name: name, ch: make(chan message.Envelope, subscriptionBuffer)}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub.ch
}

// Unsubscribe removes name's subscription to topic, closing its channel.
func (b *Bus) Unsubscribe(name, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.name == name {
			close(sub.ch)
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans payload out to every subscriber of topic as the given
// publisher's envelope. Delivery is best-effort: a subscriber whose buffer
// is full is skipped rather than blocking the publisher or other
// subscribers.
func (b *Bus) Publish(publisher, topic string, payload map[string]interface{}) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	msg := message.Envelope{
		From:      publisher,
		To:        message.Broadcast,
		Type:      topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			if b.logger != nil {
				b.logger.WithFields(map[string]interface{}{
					"topic": topic, "subscriber": sub.name,
				}).Warn("dropped publish: subscriber buffer full")
			}
		}
	}
}
