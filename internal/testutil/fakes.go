package testutil

import (
	"context"
	"sync"
)

// Published is one message captured by RecordingPublisher.
type Published struct {
	Topic   string
	Payload any
}

// RecordingPublisher keeps every published message in memory.
type RecordingPublisher struct {
	mu       sync.Mutex
	messages []Published
}

// Publish records the message and never fails.
func (p *RecordingPublisher) Publish(_ context.Context, topic string, payload any) {
	p.mu.Lock()
	p.messages = append(p.messages, Published{Topic: topic, Payload: payload})
	p.mu.Unlock()
}

// Messages returns a copy of everything published so far.
func (p *RecordingPublisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topics returns the topics published so far, in order.
func (p *RecordingPublisher) Topics() []string {
	msgs := p.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Topic)
	}
	return out
}
