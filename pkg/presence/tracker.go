// Package presence tracks who is typing in each topic. Entries are
// ephemeral: they live in process, are refreshed by typing events and are
// swept out once they exceed the TTL, whether or not a stop event arrived.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

// PublishFunc pushes a typing event downstream (in the gateway this is the
// Kafka producer, so every instance converges on the same typing set).
type PublishFunc func(topic model.Topic, ev model.TypingEvent) error

type Tracker struct {
	mu     sync.Mutex
	topics map[string]map[string]model.TypingUser

	ttl      time.Duration
	interval time.Duration
	publish  PublishFunc
}

func NewTracker(ttl, interval time.Duration, publish PublishFunc) *Tracker {
	return &Tracker{
		topics:   make(map[string]map[string]model.TypingUser),
		ttl:      ttl,
		interval: interval,
		publish:  publish,
	}
}

// MarkTyping records or refreshes user in topic's typing set and broadcasts
// the start. A refresh re-broadcasts so remote trackers reset their TTL.
func (t *Tracker) MarkTyping(topic model.Topic, user model.TypingUser) {
	if user.Timestamp.IsZero() {
		user.Timestamp = time.Now()
	}

	t.mu.Lock()
	key := topic.Key()
	if t.topics[key] == nil {
		t.topics[key] = make(map[string]model.TypingUser)
	}
	t.topics[key][user.ID] = user
	t.mu.Unlock()

	if err := t.publish(topic, model.TypingEvent{User: user, Started: true}); err != nil {
		log.Printf("presence: publish typing start for %s: %v", user.ID, err)
	}
}

// MarkStopped removes user from topic's typing set. Removing an absent
// entry is a no-op and broadcasts nothing.
func (t *Tracker) MarkStopped(topic model.Topic, userID string) {
	t.mu.Lock()
	key := topic.Key()
	user, present := t.topics[key][userID]
	if present {
		delete(t.topics[key], userID)
		if len(t.topics[key]) == 0 {
			delete(t.topics, key)
		}
	}
	t.mu.Unlock()

	if !present {
		return
	}
	if err := t.publish(topic, model.TypingEvent{User: user, Started: false}); err != nil {
		log.Printf("presence: publish typing stop for %s: %v", userID, err)
	}
}

// Typing returns topic's visible typing set for viewerID. The viewer's own
// entry and anything past the TTL are excluded even if the sweep has not
// run yet.
func (t *Tracker) Typing(topic model.Topic, viewerID string) []model.TypingUser {
	cutoff := time.Now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.TypingUser
	for id, user := range t.topics[topic.Key()] {
		if id == viewerID || user.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, user)
	}
	return out
}

// Run sweeps expired entries until ctx is done. Each expiry triggers the
// same stop broadcast an explicit MarkStopped would.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.ttl)

	type expired struct {
		topic model.Topic
		user  model.TypingUser
	}
	var dead []expired

	t.mu.Lock()
	for key, users := range t.topics {
		topic, err := model.ParseTopicKey(key)
		if err != nil {
			delete(t.topics, key)
			continue
		}
		for id, user := range users {
			if user.Timestamp.Before(cutoff) {
				delete(users, id)
				dead = append(dead, expired{topic: topic, user: user})
			}
		}
		if len(users) == 0 {
			delete(t.topics, key)
		}
	}
	t.mu.Unlock()

	for _, d := range dead {
		if err := t.publish(d.topic, model.TypingEvent{User: d.user, Started: false}); err != nil {
			log.Printf("presence: publish sweep stop for %s: %v", d.user.ID, err)
		}
	}
}
