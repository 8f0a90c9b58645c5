package convo

import (
	"testing"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

var testTopic = model.Topic{CandidateID: "cand-1", JobID: "job-1"}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UserID = "me"
	return cfg
}

func mustEvent(t *testing.T, kind model.EventKind, payload any) model.Event {
	t.Helper()
	ev, err := model.NewEvent(testTopic, kind, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func confirmedMessage(id int64, sender, text string, ts time.Time) model.Message {
	return model.Message{
		ID:        id,
		Text:      text,
		Sender:    model.MessageSender{ID: sender, Name: sender},
		Timestamp: ts,
	}
}

func TestOptimisticSendMergesWithoutDuplicate(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	token, err := th.StageSend("Hi", nil, nil, "")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if got := th.Messages(); len(got) != 1 || got[0].State != StatePending {
		t.Fatalf("after stage: %+v", got)
	}

	// Confirmation arrives 300ms later with the authoritative id.
	authoritative := confirmedMessage(42, "me", "Hi", time.Now())
	authoritative.CorrelationID = token
	if err := th.Apply(mustEvent(t, model.KindMessageInserted, authoritative)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	msgs := th.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1 (no duplicate)", len(msgs))
	}
	if msgs[0].ID != 42 || msgs[0].Text != "Hi" || msgs[0].State != StateConfirmed {
		t.Fatalf("merged entry = %+v", msgs[0])
	}
	if msgs[0].Token != "" && msgs[0].Token == token {
		t.Fatal("temporary entry survived the merge")
	}
}

func TestTwoIdenticalSendsStayDistinct(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	tok1, _ := th.StageSend("same text", nil, nil, "")
	tok2, _ := th.StageSend("same text", nil, nil, "")
	if tok1 == tok2 {
		t.Fatal("correlation tokens must differ")
	}

	m1 := confirmedMessage(101, "me", "same text", time.Now())
	m1.CorrelationID = tok1
	m2 := confirmedMessage(102, "me", "same text", time.Now())
	m2.CorrelationID = tok2

	th.Apply(mustEvent(t, model.KindMessageInserted, m1))
	th.Apply(mustEvent(t, model.KindMessageInserted, m2))

	msgs := th.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 distinct entries", len(msgs))
	}
	for _, m := range msgs {
		if m.State != StateConfirmed {
			t.Fatalf("entry not confirmed: %+v", m)
		}
	}
}

func TestConfirmationAfterWindowMarksStaleSendFailed(t *testing.T) {
	cfg := testConfig()
	cfg.CorrelationWindow = 10 * time.Millisecond
	th := NewThread(testTopic, cfg)

	token, _ := th.StageSend("late", nil, nil, "")
	time.Sleep(20 * time.Millisecond)

	late := confirmedMessage(7, "me", "late", time.Now())
	late.CorrelationID = token
	th.Apply(mustEvent(t, model.KindMessageInserted, late))

	var failed, confirmed int
	for _, m := range th.Messages() {
		switch m.State {
		case StateFailed:
			failed++
		case StateConfirmed:
			confirmed++
		}
	}
	if failed != 1 || confirmed != 1 {
		t.Fatalf("failed=%d confirmed=%d, want stale entry failed and authoritative inserted", failed, confirmed)
	}
}

func TestInsertEventIsIdempotentByID(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	msg := confirmedMessage(5, "other", "hello", time.Now())
	ev := mustEvent(t, model.KindMessageInserted, msg)
	th.Apply(ev)
	th.Apply(ev) // at-least-once delivery: same event twice

	if got := len(th.Messages()); got != 1 {
		t.Fatalf("messages = %d after duplicate delivery, want 1", got)
	}
	if got := th.Unread(); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
}

func TestFailedSendStaysVisible(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	token, _ := th.StageSend("doomed", nil, nil, "")
	th.MarkFailed(token)

	msgs := th.Messages()
	if len(msgs) != 1 || msgs[0].State != StateFailed {
		t.Fatalf("failed send not visible: %+v", msgs)
	}

	if !th.Restage(token) {
		t.Fatal("restage should succeed for a failed entry")
	}
	if th.Messages()[0].State != StatePending {
		t.Fatal("restaged entry should be pending")
	}

	th.MarkFailed(token)
	th.Discard(token)
	if got := len(th.Messages()); got != 0 {
		t.Fatalf("messages = %d after discard, want 0", got)
	}
}

func TestUpdateReplacesOrInserts(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	orig := confirmedMessage(11, "other", "v1", time.Now())
	th.Apply(mustEvent(t, model.KindMessageInserted, orig))

	edited := orig
	edited.Text = "v2"
	edited.IsEdited = true
	th.Apply(mustEvent(t, model.KindMessageUpdated, edited))

	msgs := th.Messages()
	if len(msgs) != 1 || msgs[0].Text != "v2" || !msgs[0].IsEdited {
		t.Fatalf("after update: %+v", msgs)
	}

	// Update for a message never observed (fresh reconnect): insert it.
	unseen := confirmedMessage(12, "other", "new", time.Now())
	th.Apply(mustEvent(t, model.KindMessageUpdated, unseen))
	if got := len(th.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
}

func TestDeleteRemovesAndAbsentIsNoop(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	th.Apply(mustEvent(t, model.KindMessageInserted, confirmedMessage(21, "other", "bye", time.Now())))
	th.Apply(mustEvent(t, model.KindMessageDeleted, model.MessageDeleted{ID: 21}))
	th.Apply(mustEvent(t, model.KindMessageDeleted, model.MessageDeleted{ID: 21}))
	th.Apply(mustEvent(t, model.KindMessageDeleted, model.MessageDeleted{ID: 999}))

	if got := len(th.Messages()); got != 0 {
		t.Fatalf("messages = %d, want 0", got)
	}
}

func TestReactionDeltaPatchesInPlace(t *testing.T) {
	th := NewThread(testTopic, testConfig())
	th.Apply(mustEvent(t, model.KindMessageInserted, confirmedMessage(31, "other", "react to me", time.Now())))

	th.Apply(mustEvent(t, model.KindReactionChanged, model.ReactionDelta{
		MessageID: 31,
		Emoji:     "👍",
		UserID:    "me",
		Op:        model.ReactionAdded,
		Groups:    []model.MessageReaction{{Emoji: "👍", Users: []string{"me", "u2"}}},
	}))

	msgs := th.Messages()
	if len(msgs[0].Reactions) != 1 {
		t.Fatalf("reactions = %+v", msgs[0].Reactions)
	}
	g := msgs[0].Reactions[0]
	if g.Count != 2 || !g.HasReacted {
		t.Fatalf("group = %+v, want count 2 with viewer membership", g)
	}
}

func TestOwnTypingNeverVisible(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	// Replay on reconnect includes our own start event.
	th.Apply(mustEvent(t, model.KindTyping, model.TypingEvent{
		User: model.TypingUser{ID: "me", Timestamp: time.Now()}, Started: true,
	}))
	th.Apply(mustEvent(t, model.KindTyping, model.TypingEvent{
		User: model.TypingUser{ID: "other", Timestamp: time.Now()}, Started: true,
	}))

	typing := th.Typing()
	if len(typing) != 1 || typing[0].ID != "other" {
		t.Fatalf("typing = %+v, want only 'other'", typing)
	}
}

func TestTypingExpiresFromView(t *testing.T) {
	cfg := testConfig()
	cfg.TypingTTL = 30 * time.Millisecond
	th := NewThread(testTopic, cfg)

	th.Apply(mustEvent(t, model.KindTyping, model.TypingEvent{
		User: model.TypingUser{ID: "other", Timestamp: time.Now()}, Started: true,
	}))
	if got := len(th.Typing()); got != 1 {
		t.Fatalf("typing = %d, want 1", got)
	}

	time.Sleep(40 * time.Millisecond)
	if got := len(th.Typing()); got != 0 {
		t.Fatalf("typing = %d after TTL with no stop event, want 0", got)
	}
}

func TestMalformedEventSkippedStreamContinues(t *testing.T) {
	th := NewThread(testTopic, testConfig())

	bad := model.Event{Topic: testTopic, Kind: model.KindMessageInserted, Payload: []byte(`{"id":"not a number"}`)}
	if err := th.Apply(bad); err == nil {
		t.Fatal("expected error for malformed payload")
	}

	// The stream keeps going.
	th.Apply(mustEvent(t, model.KindMessageInserted, confirmedMessage(51, "other", "after", time.Now())))
	if got := len(th.Messages()); got != 1 {
		t.Fatalf("messages = %d, want 1", got)
	}
}

func TestReadReceiptResetsOwnUnread(t *testing.T) {
	th := NewThread(testTopic, testConfig())
	th.Apply(mustEvent(t, model.KindMessageInserted, confirmedMessage(61, "other", "ping", time.Now())))
	if th.Unread() != 1 {
		t.Fatalf("unread = %d, want 1", th.Unread())
	}

	// Someone else's receipt changes nothing.
	th.Apply(mustEvent(t, model.KindReadReceipt, model.ReadReceipt{UserID: "other"}))
	if th.Unread() != 1 {
		t.Fatalf("unread = %d after foreign receipt, want 1", th.Unread())
	}

	th.Apply(mustEvent(t, model.KindReadReceipt, model.ReadReceipt{UserID: "me"}))
	if th.Unread() != 0 {
		t.Fatalf("unread = %d after own receipt, want 0", th.Unread())
	}
}
