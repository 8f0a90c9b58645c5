// Package registry maps topics to their live subscriber set and fans
// events out to every subscription on a topic.
package registry

import (
	"sync"

	"github.com/talentloop/convo/pkg/model"
)

// DefaultBuffer is the per-subscription outbound queue depth. A subscriber
// that falls this far behind is dropped rather than allowed to block fan-out.
const DefaultBuffer = 256

type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription is the handle returned by Subscribe. Events delivers in
// publish order until Close.
type Subscription struct {
	topic model.Topic
	ch    chan model.Event
	reg   *Registry
	once  sync.Once
}

func New() *Registry {
	return NewWithBuffer(DefaultBuffer)
}

func NewWithBuffer(buffer int) *Registry {
	if buffer < 1 {
		buffer = 1
	}
	return &Registry{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscription on topic.
func (r *Registry) Subscribe(topic model.Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan model.Event, r.buffer),
		reg:   r,
	}

	r.mu.Lock()
	key := topic.Key()
	if r.subs[key] == nil {
		r.subs[key] = make(map[*Subscription]struct{})
	}
	r.subs[key][sub] = struct{}{}
	r.mu.Unlock()

	return sub
}

// Publish delivers ev to every current subscriber of ev.Topic. Delivery is
// non-blocking per subscriber: one with a full queue is dropped so it can
// never stall the others. Returns the number of subscribers reached.
func (r *Registry) Publish(ev model.Event) int {
	var slow []*Subscription
	delivered := 0

	r.mu.RLock()
	for sub := range r.subs[ev.Topic.Key()] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range slow {
		sub.Close()
	}
	return delivered
}

// Subscribers returns the current subscription count for topic.
func (r *Registry) Subscribers(topic model.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[topic.Key()])
}

// Events is the subscription's delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

func (s *Subscription) Topic() model.Topic {
	return s.topic
}

// Close unsubscribes. It is idempotent and safe after the connection has
// already dropped; once it returns no further publish reaches this
// subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		r := s.reg
		r.mu.Lock()
		key := s.topic.Key()
		if set, ok := r.subs[key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(r.subs, key)
			}
		}
		close(s.ch)
		r.mu.Unlock()
	})
}
