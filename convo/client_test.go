package convo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

func TestNewClientValidation(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewClient(cfg, testTopic); err == nil {
		t.Fatal("expected error without UserID")
	}

	cfg.UserID = "me"
	if _, err := NewClient(cfg, model.Topic{CandidateID: "cand-1"}); err == nil {
		t.Fatal("expected error for topic missing job")
	}
	if _, err := NewClient(cfg, testTopic); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSendStagesOptimisticallyAndSurvivesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "reject me" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "write_rejected",
				"message": "unknown attachment reference",
			})
			return
		}
		if req.CorrelationID == "" {
			t.Error("send request missing correlation token")
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Message{
			ID:            77,
			Text:          req.Text,
			Sender:        model.MessageSender{ID: "me"},
			Timestamp:     time.Now(),
			CorrelationID: req.CorrelationID,
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.UserID = "me"
	cfg.APIBaseURL = srv.URL
	c, err := NewClient(cfg, testTopic)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	token, err := c.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := c.Thread().Messages()
	if len(msgs) != 1 || msgs[0].State != StatePending || msgs[0].Token != token {
		t.Fatalf("after accepted send: %+v", msgs)
	}

	// Rejected write: the entry flips to failed instead of vanishing.
	failTok, err := c.Send(context.Background(), "reject me")
	if !IsWriteRejected(err) {
		t.Fatalf("err = %v, want write rejection", err)
	}
	var entry *ThreadMessage
	for _, m := range c.Thread().Messages() {
		if m.Token == failTok {
			e := m
			entry = &e
		}
	}
	if entry == nil || entry.State != StateFailed {
		t.Fatalf("rejected send entry = %+v, want visible and failed", entry)
	}

	// Retry re-issues the same token, then discard clears it.
	if err := c.RetrySend(context.Background(), failTok); IsWriteRejected(err) {
		// "reject me" fails again; must stay failed and discardable.
		c.DiscardSend(failTok)
	} else if err != nil {
		t.Fatalf("retry: %v", err)
	}
	for _, m := range c.Thread().Messages() {
		if m.Token == failTok {
			t.Fatalf("discarded entry still present: %+v", m)
		}
	}
}

func TestRetrySendUnknownToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserID = "me"
	c, err := NewClient(cfg, testTopic)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	err = c.RetrySend(context.Background(), "no-such-token")
	if CodeOf(err) != ErrorNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestDispatcherRoutesByKind(t *testing.T) {
	var d Dispatcher

	var gotInsert *model.Message
	var gotDelete int64
	var gotTyping *model.TypingEvent
	d.SetOnMessageInserted(func(m model.Message) { gotInsert = &m })
	d.SetOnMessageDeleted(func(id int64) { gotDelete = id })
	d.SetOnTyping(func(ev model.TypingEvent) { gotTyping = &ev })

	d.Dispatch(mustEvent(t, model.KindMessageInserted, confirmedMessage(9, "other", "hi", time.Now())))
	d.Dispatch(mustEvent(t, model.KindMessageDeleted, model.MessageDeleted{ID: 9}))
	d.Dispatch(mustEvent(t, model.KindTyping, model.TypingEvent{
		User: model.TypingUser{ID: "other"}, Started: true,
	}))

	if gotInsert == nil || gotInsert.ID != 9 {
		t.Fatalf("insert callback got %+v", gotInsert)
	}
	if gotDelete != 9 {
		t.Fatalf("delete callback got %d", gotDelete)
	}
	if gotTyping == nil || gotTyping.User.ID != "other" || !gotTyping.Started {
		t.Fatalf("typing callback got %+v", gotTyping)
	}
}

func TestDispatcherReportsMalformedPayload(t *testing.T) {
	var d Dispatcher

	var fired int
	var lastErr error
	d.SetOnMessageInserted(func(model.Message) { fired++ })
	d.SetOnError(func(err error) { lastErr = err })

	d.Dispatch(model.Event{
		Topic:   testTopic,
		Kind:    model.KindMessageInserted,
		Payload: []byte(`{"id":"bogus"}`),
	})

	if fired != 0 {
		t.Fatal("callback fired for malformed payload")
	}
	if CodeOf(lastErr) != ErrorSerialization {
		t.Fatalf("error callback got %v, want serialization error", lastErr)
	}
}
