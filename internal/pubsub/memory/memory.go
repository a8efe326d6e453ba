// Package memory provides an in-process pubsub broker for standalone mode
// and tests. Delivery is at-most-once per subscription; Nak requeues
// non-blocking.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"changewatch/internal/pubsub"
)

// ErrBrokerClosed is returned when publishing after Close.
var ErrBrokerClosed = errors.New("memory broker closed")

// Broker routes messages between in-process publishers and consumers.
type Broker struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed atomic.Bool
}

type subscription struct {
	pattern string
	msgCh   chan pubsub.Message
	ctx     context.Context
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Close stops routing. Existing subscription channels stay open until
// their contexts end.
func (b *Broker) Close() {
	b.closed.Store(true)
}

// Publisher returns a Publisher routing into this broker.
func (b *Broker) Publisher() pubsub.Publisher {
	return &memoryPublisher{broker: b}
}

// Consumer returns a Consumer receiving subjects matching the pattern.
// Patterns use NATS-style wildcards ("*" one token, ">" trailing rest).
func (b *Broker) Consumer(pattern string) pubsub.Consumer {
	return &memoryConsumer{broker: b, pattern: pattern}
}

func (b *Broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !matchSubject(sub.pattern, subject) {
			continue
		}
		msg := &memoryMessage{data: data, subject: subject, broker: b, sub: sub}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
		}
	}
	return nil
}

type memoryPublisher struct {
	broker *Broker
}

func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.broker.publish(ctx, subject, data)
}

func (p *memoryPublisher) Close() error {
	return nil
}

type memoryConsumer struct {
	broker  *Broker
	pattern string
}

func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	sub := &subscription{
		pattern: c.pattern,
		msgCh:   make(chan pubsub.Message, 100),
		ctx:     ctx,
	}

	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, sub)
	c.broker.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.broker.mu.Lock()
		for i, s := range c.broker.subs {
			if s == sub {
				c.broker.subs = append(c.broker.subs[:i], c.broker.subs[i+1:]...)
				break
			}
		}
		// Closed under the lock: anyone holding it can rely on channels of
		// registered subscriptions being open.
		close(sub.msgCh)
		c.broker.mu.Unlock()
	}()

	return sub.msgCh, nil
}

// memoryMessage implements pubsub.Message for in-memory delivery.
type memoryMessage struct {
	data    []byte
	subject string
	broker  *Broker
	sub     *subscription

	mu     sync.Mutex
	acked  bool
	naked  bool
	termed bool
}

func (m *memoryMessage) Data() []byte {
	return m.data
}

func (m *memoryMessage) Subject() string {
	return m.subject
}

// Ack acknowledges successful processing. Idempotent.
func (m *memoryMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked || m.naked || m.termed {
		return nil
	}
	m.acked = true
	return nil
}

// Nak requeues the message non-blocking; if the channel is full or the
// subscription has ended the message is dropped.
func (m *memoryMessage) Nak() error {
	m.mu.Lock()
	if m.acked || m.termed || m.naked {
		m.mu.Unlock()
		return nil
	}
	m.naked = true
	m.mu.Unlock()

	// Redeliver only while the subscription is still registered; its
	// channel cannot close while the lock is held.
	m.broker.mu.RLock()
	defer m.broker.mu.RUnlock()
	for _, s := range m.broker.subs {
		if s != m.sub {
			continue
		}
		redelivered := &memoryMessage{data: m.data, subject: m.subject, broker: m.broker, sub: s}
		select {
		case s.msgCh <- redelivered:
		default:
		}
		break
	}
	return nil
}

// Term terminates the message with no redelivery.
func (m *memoryMessage) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked || m.naked || m.termed {
		return nil
	}
	m.termed = true
	return nil
}

// matchSubject checks if a subject matches a pattern.
// Supports NATS-style wildcards:
// - "*" matches a single token
// - ">" matches one or more tokens (must be last)
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	for i, p := range patternParts {
		if p == ">" {
			return i < len(subjectParts)
		}
		if i >= len(subjectParts) {
			return false
		}
		if p != "*" && p != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}
