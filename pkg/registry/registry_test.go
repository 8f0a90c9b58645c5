package registry

import (
	"encoding/json"
	"testing"

	"github.com/talentloop/convo/pkg/model"
)

var testTopic = model.Topic{CandidateID: "cand-1", JobID: "job-1"}

func typingEvent(t *testing.T, user string) model.Event {
	t.Helper()
	ev, err := model.NewEvent(testTopic, model.KindTyping, model.TypingEvent{
		User:    model.TypingUser{ID: user},
		Started: true,
	})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	r := New()
	a := r.Subscribe(testTopic)
	b := r.Subscribe(testTopic)
	other := r.Subscribe(model.Topic{CandidateID: "cand-2", JobID: "job-1"})

	if got := r.Publish(typingEvent(t, "u1")); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
	<-a.Events()
	<-b.Events()

	select {
	case ev := <-other.Events():
		t.Fatalf("cross-topic delivery: %+v", ev)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New()
	sub := r.Subscribe(testTopic)
	sub.Close()

	if got := r.Publish(typingEvent(t, "u1")); got != 0 {
		t.Fatalf("delivered = %d after close, want 0", got)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed events channel")
	}
	if got := r.Subscribers(testTopic); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r := New()
	sub := r.Subscribe(testTopic)
	sub.Close()
	sub.Close()
	sub.Close()
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	r := NewWithBuffer(1)
	slow := r.Subscribe(testTopic)
	fast := r.Subscribe(testTopic)

	// First publish fills slow's queue; nobody drains it.
	r.Publish(typingEvent(t, "u1"))
	// Second publish must still reach fast and evict slow.
	r.Publish(typingEvent(t, "u2"))

	got := 0
	for range fast.Events() {
		got++
		if got == 2 {
			break
		}
	}

	if n := r.Subscribers(testTopic); n != 1 {
		t.Fatalf("subscribers = %d after slow eviction, want 1", n)
	}

	// Slow was evicted: its queue drains the one buffered event, then closes.
	<-slow.Events()
	if _, ok := <-slow.Events(); ok {
		t.Fatal("expected slow subscription channel to be closed")
	}
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	r := New()
	sub := r.Subscribe(testTopic)

	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		r.Publish(typingEvent(t, u))
	}

	for _, want := range users {
		ev := <-sub.Events()
		var payload model.TypingEvent
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.User.ID != want {
			t.Fatalf("out of order: got %s, want %s", payload.User.ID, want)
		}
	}
}
