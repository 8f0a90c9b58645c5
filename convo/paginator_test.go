package convo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

// historyServer serves a fixed descending history the way the API does:
// newest first, cursor-bounded, limit+1 probe folded into has_more.
func historyServer(t *testing.T, history []model.Message) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		before, _ := strconv.ParseInt(q.Get("before"), 10, 64)

		var page []model.Message
		for _, m := range history {
			if before > 0 && m.ID >= before {
				continue
			}
			page = append(page, m)
		}
		hasMore := len(page) > limit
		if hasMore {
			page = page[:limit]
		}
		json.NewEncoder(w).Encode(MessagesPage{Messages: page, HasMore: hasMore})
	}))
}

func fixtureHistory(n int) []model.Message {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]model.Message, 0, n)
	for id := int64(n); id >= 1; id-- {
		out = append(out, model.Message{
			ID:        id,
			Text:      "msg " + strconv.FormatInt(id, 10),
			Sender:    model.MessageSender{ID: "other"},
			Timestamp: base.Add(time.Duration(id) * time.Minute),
		})
	}
	return out
}

func TestLoadOlderWalksHistoryWithoutGapsOrDuplicates(t *testing.T) {
	srv := historyServer(t, fixtureHistory(10))
	defer srv.Close()

	rest := NewREST(srv.URL)
	th := NewThread(testTopic, testConfig())
	p := NewPaginator(rest, th, 4)

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("seed head: %v", err)
	}
	if got := len(th.Messages()); got != 4 {
		t.Fatalf("head page = %d messages, want 4", got)
	}

	for th.HasMore() {
		if _, _, err := p.LoadOlder(context.Background()); err != nil {
			t.Fatalf("load older: %v", err)
		}
	}

	msgs := th.Messages()
	if len(msgs) != 10 {
		t.Fatalf("messages = %d after full walk, want 10", len(msgs))
	}
	for i, m := range msgs {
		if want := int64(10 - i); m.ID != want {
			t.Fatalf("msgs[%d].ID = %d, want %d (descending, no gaps)", i, m.ID, want)
		}
	}

	// Exhausted history: further calls are no-ops, not requests.
	srv.Close()
	if _, hasMore, err := p.LoadOlder(context.Background()); err != nil || hasMore {
		t.Fatalf("after exhaustion: hasMore=%v err=%v", hasMore, err)
	}
}

func TestLoadOlderNeverDisturbsLiveHead(t *testing.T) {
	srv := historyServer(t, fixtureHistory(6))
	defer srv.Close()

	rest := NewREST(srv.URL)
	th := NewThread(testTopic, testConfig())
	p := NewPaginator(rest, th, 3)

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("seed head: %v", err)
	}

	// A live event lands and edits a loaded message before the next page.
	edited := model.Message{
		ID:        5,
		Text:      "edited live",
		IsEdited:  true,
		Sender:    model.MessageSender{ID: "other"},
		Timestamp: time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
	}
	th.Apply(mustEvent(t, model.KindMessageUpdated, edited))

	if _, _, err := p.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}

	for _, m := range th.Messages() {
		if m.ID == 5 && m.Text != "edited live" {
			t.Fatalf("page merge overwrote a live-synced message: %+v", m)
		}
	}
	if got := len(th.Messages()); got != 6 {
		t.Fatalf("messages = %d, want 6 with no duplicates", got)
	}
}

func TestStaleCursorSurfacesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("before") != "" {
			w.WriteHeader(http.StatusGone)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "stale_cursor",
				"message": "cursor precedes retention horizon",
			})
			return
		}
		json.NewEncoder(w).Encode(MessagesPage{
			Messages: fixtureHistory(2),
			HasMore:  true,
		})
	}))
	defer srv.Close()

	rest := NewREST(srv.URL)
	th := NewThread(testTopic, testConfig())
	p := NewPaginator(rest, th, 2)

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("seed head: %v", err)
	}

	_, _, err := p.LoadOlder(context.Background())
	if !IsStaleCursor(err) {
		t.Fatalf("err = %v, want stale cursor", err)
	}

	// Recovery path: restart from the live head.
	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("reset after stale cursor: %v", err)
	}
	if got := len(th.Messages()); got != 2 {
		t.Fatalf("messages = %d after reset, want fresh head page of 2", got)
	}
}

func TestSupersededLoadIsCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("before") != "" {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		json.NewEncoder(w).Encode(MessagesPage{Messages: fixtureHistory(2), HasMore: true})
	}))
	defer srv.Close()
	defer close(release)

	rest := NewREST(srv.URL)
	th := NewThread(testTopic, testConfig())
	p := NewPaginator(rest, th, 2)

	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("seed head: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, _, err := p.LoadOlder(context.Background())
		firstDone <- err
	}()

	// Give the first request time to reach the handler, then supersede it.
	time.Sleep(50 * time.Millisecond)
	if err := p.Reset(context.Background()); err != nil {
		t.Fatalf("superseding reset: %v", err)
	}

	select {
	case err := <-firstDone:
		if err == nil {
			t.Fatal("superseded load should not succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded load never returned")
	}
}
