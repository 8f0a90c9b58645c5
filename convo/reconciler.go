package convo

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/reactions"
)

// MessageState is the reconciler's view of one entry.
type MessageState int

const (
	// StateConfirmed entries came from (or were matched to) the
	// authoritative stream.
	StateConfirmed MessageState = iota

	// StatePending entries are optimistic local sends awaiting their
	// insert event.
	StatePending

	// StateFailed entries are sends rejected at the write boundary. They
	// stay visible until the caller retries or discards them.
	StateFailed
)

func (s MessageState) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ThreadMessage is a Message plus the render-only reconciliation state.
type ThreadMessage struct {
	model.Message
	State MessageState
	Token string

	// AttachmentRef survives on staged entries so a retry can resend the
	// same committed upload.
	AttachmentRef string
}

// Thread reconciles the authoritative event stream for one topic with the
// locally optimistic view. All state is private to the instance: several
// threads for different topics or sessions coexist without touching each
// other. Events are applied in arrival order, and applies are atomic with
// respect to staging a local send.
type Thread struct {
	mu     sync.Mutex
	topic  model.Topic
	selfID string
	window time.Duration
	ttl    time.Duration

	msgs    []ThreadMessage // timestamp descending
	pending map[string]time.Time
	agg     *reactions.Aggregator
	typing  map[string]model.TypingUser
	unread  int64
	hasMore bool
}

func NewThread(topic model.Topic, cfg Config) *Thread {
	window := cfg.CorrelationWindow
	if window <= 0 {
		window = DefaultConfig().CorrelationWindow
	}
	ttl := cfg.TypingTTL
	if ttl <= 0 {
		ttl = DefaultConfig().TypingTTL
	}
	return &Thread{
		topic:   topic,
		selfID:  cfg.UserID,
		window:  window,
		ttl:     ttl,
		pending: make(map[string]time.Time),
		agg:     reactions.NewAggregator(),
		typing:  make(map[string]model.TypingUser),
	}
}

func (t *Thread) Topic() model.Topic {
	return t.topic
}

// Seed loads the initial head page, replacing current state. Call before
// the first Apply.
func (t *Thread) Seed(page *MessagesPage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgs = t.msgs[:0]
	for _, msg := range page.Messages {
		t.msgs = append(t.msgs, ThreadMessage{Message: t.localize(msg), State: StateConfirmed})
		t.agg.Seed(msg.ID, msg.Reactions)
	}
	t.sortLocked()
	t.hasMore = page.HasMore
	t.unread = page.UnreadCount
}

// Apply reconciles one fanned-out event. A malformed payload returns an
// error and changes nothing; the caller logs it and keeps consuming.
func (t *Thread) Apply(ev model.Event) error {
	switch ev.Kind {
	case model.KindMessageInserted:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return WrapError(ErrorSerialization, "malformed insert event", err)
		}
		t.applyInsert(msg)
	case model.KindMessageUpdated:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return WrapError(ErrorSerialization, "malformed update event", err)
		}
		t.applyUpdate(msg)
	case model.KindMessageDeleted:
		var del model.MessageDeleted
		if err := json.Unmarshal(ev.Payload, &del); err != nil {
			return WrapError(ErrorSerialization, "malformed delete event", err)
		}
		t.applyDelete(del.ID)
	case model.KindReactionChanged:
		var delta model.ReactionDelta
		if err := json.Unmarshal(ev.Payload, &delta); err != nil {
			return WrapError(ErrorSerialization, "malformed reaction delta", err)
		}
		t.applyReaction(delta)
	case model.KindTyping:
		var typing model.TypingEvent
		if err := json.Unmarshal(ev.Payload, &typing); err != nil {
			return WrapError(ErrorSerialization, "malformed typing event", err)
		}
		t.applyTyping(typing)
	case model.KindReadReceipt:
		var receipt model.ReadReceipt
		if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
			return WrapError(ErrorSerialization, "malformed read receipt", err)
		}
		t.applyReadReceipt(receipt)
	}
	return nil
}

func (t *Thread) applyInsert(msg model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg = t.localize(msg)

	if msg.CorrelationID != "" {
		if staged, ok := t.pending[msg.CorrelationID]; ok {
			delete(t.pending, msg.CorrelationID)
			if time.Since(staged) <= t.window {
				// Token match inside the window: the optimistic entry
				// becomes the authoritative one, never a duplicate.
				t.removeByTokenLocked(msg.CorrelationID)
				t.removeByIDLocked(msg.ID)
				t.insertSortedLocked(ThreadMessage{Message: msg, State: StateConfirmed})
				return
			}
			// Window lapsed: the stale optimistic entry is a failed send
			// for the caller to retry or discard explicitly.
			t.markTokenLocked(msg.CorrelationID, StateFailed)
		}
	}

	if i := t.indexByIDLocked(msg.ID); i >= 0 {
		t.msgs[i] = ThreadMessage{Message: msg, State: StateConfirmed}
		return
	}
	t.insertSortedLocked(ThreadMessage{Message: msg, State: StateConfirmed})
	if msg.Sender.ID != t.selfID {
		t.unread++
	}
}

func (t *Thread) applyUpdate(msg model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg = t.localize(msg)

	if i := t.indexByIDLocked(msg.ID); i >= 0 {
		if msg.Reactions == nil {
			msg.Reactions = t.msgs[i].Reactions
		}
		t.msgs[i] = ThreadMessage{Message: msg, State: StateConfirmed}
		return
	}
	// Not yet observed (e.g. just reconnected): treat as insert.
	t.insertSortedLocked(ThreadMessage{Message: msg, State: StateConfirmed})
}

func (t *Thread) applyDelete(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeByIDLocked(id)
	t.agg.Forget(id)
}

func (t *Thread) applyReaction(delta model.ReactionDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The delta carries the full post-change aggregate, so the message is
	// patched in place without refetching anything.
	t.agg.Seed(delta.MessageID, delta.Groups)
	groups := t.agg.Groups(delta.MessageID, t.selfID)
	if i := t.indexByIDLocked(delta.MessageID); i >= 0 {
		t.msgs[i].Reactions = groups
	}
}

func (t *Thread) applyTyping(ev model.TypingEvent) {
	if ev.User.ID == t.selfID {
		// Self-exclusion happens at apply, not render, so a reconnect
		// replay cannot echo our own typing back into the visible set.
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !ev.Started {
		delete(t.typing, ev.User.ID)
		return
	}
	user := ev.User
	if user.Timestamp.IsZero() {
		user.Timestamp = time.Now()
	}
	t.typing[user.ID] = user
}

func (t *Thread) applyReadReceipt(receipt model.ReadReceipt) {
	if receipt.UserID != t.selfID {
		return
	}
	t.mu.Lock()
	t.unread = 0
	t.mu.Unlock()
}

// StageSend appends an optimistic entry and returns its correlation token.
// The caller issues the write with the same token; the matching insert
// event replaces the entry in place.
func (t *Thread) StageSend(text string, replyTo *model.ReplyRef, att *model.Attachment, attRef string) (string, error) {
	token := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[token]; exists {
		return "", NewError(ErrorTokenCollision, "correlation token already in flight")
	}

	now := time.Now()
	t.pending[token] = now
	t.insertSortedLocked(ThreadMessage{
		Message: model.Message{
			Text:          text,
			Sender:        model.MessageSender{ID: t.selfID, IsCurrentUser: true},
			Timestamp:     now,
			ReplyTo:       replyTo,
			Attachment:    att,
			CorrelationID: token,
		},
		State:         StatePending,
		Token:         token,
		AttachmentRef: attRef,
	})
	return token, nil
}

// MarkFailed flags a staged send whose write was rejected. The entry stays
// visible so the caller can retry or discard it; it is never dropped
// silently.
func (t *Thread) MarkFailed(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, token)
	t.markTokenLocked(token, StateFailed)
}

// Restage returns a failed entry to pending ahead of a retry. Reports
// whether the token named a failed entry.
func (t *Thread) Restage(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.msgs {
		if t.msgs[i].Token == token && t.msgs[i].State == StateFailed {
			t.msgs[i].State = StatePending
			t.pending[token] = time.Now()
			return true
		}
	}
	return false
}

// Discard drops a staged entry. Used after the caller gives up on a failed
// send.
func (t *Thread) Discard(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.pending, token)
	t.removeByTokenLocked(token)
}

// MergeOlder splices a history page beneath the live head. Messages already
// present are left untouched, so a page load can never evict or reorder
// anything real-time sync delivered.
func (t *Thread) MergeOlder(msgs []model.Message, hasMore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range msgs {
		if t.indexByIDLocked(msg.ID) >= 0 {
			continue
		}
		t.msgs = append(t.msgs, ThreadMessage{Message: t.localize(msg), State: StateConfirmed})
		t.agg.Seed(msg.ID, msg.Reactions)
	}
	t.sortLocked()
	t.hasMore = hasMore
}

// Messages returns a snapshot ordered by timestamp descending.
func (t *Thread) Messages() []ThreadMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ThreadMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Typing returns who is currently typing, excluding anything past the TTL.
// The viewer never appears: their events were excluded at apply.
func (t *Thread) Typing() []model.TypingUser {
	cutoff := time.Now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.TypingUser
	for _, user := range t.typing {
		if user.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Thread) Unread() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unread
}

func (t *Thread) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// OldestID is the backward-pagination cursor: the oldest confirmed message
// currently loaded, or zero when none is.
func (t *Thread) OldestID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].ID != 0 {
			return t.msgs[i].ID
		}
	}
	return 0
}

func (t *Thread) localize(msg model.Message) model.Message {
	msg.Sender.IsCurrentUser = msg.Sender.ID == t.selfID
	return msg
}

func (t *Thread) indexByIDLocked(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Thread) removeByIDLocked(id int64) {
	if i := t.indexByIDLocked(id); i >= 0 {
		t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
	}
}

func (t *Thread) removeByTokenLocked(token string) {
	for i := range t.msgs {
		if t.msgs[i].Token == token {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

func (t *Thread) markTokenLocked(token string, state MessageState) {
	for i := range t.msgs {
		if t.msgs[i].Token == token {
			t.msgs[i].State = state
			return
		}
	}
}

func (t *Thread) insertSortedLocked(entry ThreadMessage) {
	i := sort.Search(len(t.msgs), func(i int) bool {
		return newerOrEqual(entry, t.msgs[i])
	})
	t.msgs = append(t.msgs, ThreadMessage{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = entry
}

func (t *Thread) sortLocked() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return newer(t.msgs[i], t.msgs[j])
	})
}

func newer(a, b ThreadMessage) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func newerOrEqual(a, b ThreadMessage) bool {
	return newer(a, b) || (a.Timestamp.Equal(b.Timestamp) && a.ID == b.ID)
}
