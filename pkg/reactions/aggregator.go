// Package reactions aggregates per-message emoji reactions with set
// semantics: a user counts at most once per (message, emoji), duplicate
// adds and absent removes are no-ops.
package reactions

import (
	"sort"
	"sync"

	"github.com/talentloop/convo/pkg/model"
)

type Aggregator struct {
	mu        sync.Mutex
	byMessage map[int64]map[string]map[string]struct{} // message -> emoji -> user set
}

func NewAggregator() *Aggregator {
	return &Aggregator{byMessage: make(map[int64]map[string]map[string]struct{})}
}

// Add records userID's emoji reaction on messageID. Returns false when the
// reaction was already present.
func (a *Aggregator) Add(messageID int64, userID, emoji string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	emojis := a.byMessage[messageID]
	if emojis == nil {
		emojis = make(map[string]map[string]struct{})
		a.byMessage[messageID] = emojis
	}
	users := emojis[emoji]
	if users == nil {
		users = make(map[string]struct{})
		emojis[emoji] = users
	}
	if _, dup := users[userID]; dup {
		return false
	}
	users[userID] = struct{}{}
	return true
}

// Remove drops userID's emoji reaction on messageID. Returns false when no
// such reaction existed.
func (a *Aggregator) Remove(messageID int64, userID, emoji string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.byMessage[messageID][emoji]
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(a.byMessage[messageID], emoji)
		if len(a.byMessage[messageID]) == 0 {
			delete(a.byMessage, messageID)
		}
	}
	return true
}

// Groups returns the aggregate view of messageID's reactions for viewerID,
// emojis in lexical order. Count and HasReacted are derived from the set.
func (a *Aggregator) Groups(messageID int64, viewerID string) []model.MessageReaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groupsLocked(messageID, viewerID)
}

func (a *Aggregator) groupsLocked(messageID int64, viewerID string) []model.MessageReaction {
	emojis := a.byMessage[messageID]
	if len(emojis) == 0 {
		return nil
	}

	out := make([]model.MessageReaction, 0, len(emojis))
	for emoji, users := range emojis {
		group := model.MessageReaction{Emoji: emoji, Count: len(users)}
		group.Users = make([]string, 0, len(users))
		for id := range users {
			group.Users = append(group.Users, id)
			if id == viewerID {
				group.HasReacted = true
			}
		}
		sort.Strings(group.Users)
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}

// Apply folds a reaction delta into the aggregate and returns the
// post-change groups. Used on the subscriber side so a reaction change
// never forces a message-list refetch.
func (a *Aggregator) Apply(delta model.ReactionDelta, viewerID string) []model.MessageReaction {
	switch delta.Op {
	case model.ReactionAdded:
		a.Add(delta.MessageID, delta.UserID, delta.Emoji)
	case model.ReactionRemoved:
		a.Remove(delta.MessageID, delta.UserID, delta.Emoji)
	}
	return a.Groups(delta.MessageID, viewerID)
}

// Seed loads existing groups (e.g. rows read from storage) for messageID,
// replacing whatever the aggregator held for it.
func (a *Aggregator) Seed(messageID int64, groups []model.MessageReaction) {
	a.mu.Lock()
	defer a.mu.Unlock()

	emojis := make(map[string]map[string]struct{}, len(groups))
	for _, g := range groups {
		users := make(map[string]struct{}, len(g.Users))
		for _, id := range g.Users {
			users[id] = struct{}{}
		}
		if len(users) > 0 {
			emojis[g.Emoji] = users
		}
	}
	if len(emojis) == 0 {
		delete(a.byMessage, messageID)
		return
	}
	a.byMessage[messageID] = emojis
}

// Forget drops all state for messageID (message deleted).
func (a *Aggregator) Forget(messageID int64) {
	a.mu.Lock()
	delete(a.byMessage, messageID)
	a.mu.Unlock()
}
