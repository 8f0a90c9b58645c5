package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

var testTopic = model.Topic{CandidateID: "cand-1", JobID: "job-1"}

// recorder captures published typing events.
type recorder struct {
	mu     sync.Mutex
	events []model.TypingEvent
}

func (r *recorder) publish(_ model.Topic, ev model.TypingEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) stopsFor(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if !ev.Started && ev.User.ID == userID {
			n++
		}
	}
	return n
}

func TestTypingVisibleUntilTTL(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(50*time.Millisecond, 10*time.Millisecond, rec.publish)

	tr.MarkTyping(testTopic, model.TypingUser{ID: "u1", Name: "Ana"})
	if got := len(tr.Typing(testTopic, "viewer")); got != 1 {
		t.Fatalf("typing = %d, want 1", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := len(tr.Typing(testTopic, "viewer")); got != 0 {
		t.Fatalf("typing = %d after TTL with no sweep, want 0", got)
	}
}

func TestSweepBroadcastsStop(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(30*time.Millisecond, 10*time.Millisecond, rec.publish)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	// u1 "disconnects" without ever sending a stop.
	tr.MarkTyping(testTopic, model.TypingUser{ID: "u1"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for rec.stopsFor("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never broadcast a stop for expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSelfExclusion(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(time.Minute, time.Second, rec.publish)

	tr.MarkTyping(testTopic, model.TypingUser{ID: "me"})
	tr.MarkTyping(testTopic, model.TypingUser{ID: "other"})

	visible := tr.Typing(testTopic, "me")
	if len(visible) != 1 || visible[0].ID != "other" {
		t.Fatalf("visible = %+v, want only 'other'", visible)
	}
}

func TestMarkStoppedAbsentIsNoop(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(time.Minute, time.Second, rec.publish)

	tr.MarkStopped(testTopic, "ghost")
	if got := rec.stopsFor("ghost"); got != 0 {
		t.Fatalf("stop broadcasts = %d for absent user, want 0", got)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(50*time.Millisecond, 10*time.Millisecond, rec.publish)

	tr.MarkTyping(testTopic, model.TypingUser{ID: "u1"})
	time.Sleep(30 * time.Millisecond)
	tr.MarkTyping(testTopic, model.TypingUser{ID: "u1"})
	time.Sleep(30 * time.Millisecond)

	// 60ms after first mark, but only 30ms after the refresh.
	if got := len(tr.Typing(testTopic, "viewer")); got != 1 {
		t.Fatalf("typing = %d after refresh, want 1", got)
	}
}
