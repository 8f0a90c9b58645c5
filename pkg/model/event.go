package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic is the unit of fan-out: one candidate's thread on one job.
type Topic struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

// Key returns the partition key used for storage and subscriber maps.
func (t Topic) Key() string {
	return t.CandidateID + ":" + t.JobID
}

func (t Topic) IsZero() bool {
	return t.CandidateID == "" || t.JobID == ""
}

func (t Topic) String() string {
	return t.Key()
}

// ParseTopicKey is the inverse of Key.
func ParseTopicKey(key string) (Topic, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return Topic{CandidateID: key[:i], JobID: key[i+1:]}, nil
		}
	}
	return Topic{}, fmt.Errorf("malformed topic key: %q", key)
}

type EventKind string

const (
	KindMessageInserted EventKind = "message.inserted"
	KindMessageUpdated  EventKind = "message.updated"
	KindMessageDeleted  EventKind = "message.deleted"
	KindReactionChanged EventKind = "reaction.changed"
	KindTyping          EventKind = "typing"
	KindReadReceipt     EventKind = "read.receipt"
)

// Event is the envelope carried over Kafka and delivered to WebSocket
// subscribers. Payload stays raw until a consumer knows the kind.
type Event struct {
	Topic   Topic           `json:"topic"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an envelope for topic.
func NewEvent(topic Topic, kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Topic: topic, Kind: kind, Payload: raw}, nil
}

// TypingEvent is the payload for KindTyping. Started=false is an explicit
// or sweep-generated stop.
type TypingEvent struct {
	User    TypingUser `json:"user"`
	Started bool       `json:"started"`
}

type ReactionOp string

const (
	ReactionAdded   ReactionOp = "added"
	ReactionRemoved ReactionOp = "removed"
)

// ReactionDelta is the payload for KindReactionChanged. Groups carries the
// full post-change aggregate for the message so subscribers update in place
// without refetching the list.
type ReactionDelta struct {
	MessageID int64             `json:"message_id"`
	Emoji     string            `json:"emoji"`
	UserID    string            `json:"user_id"`
	Op        ReactionOp        `json:"op"`
	Groups    []MessageReaction `json:"groups"`
}

// ReadReceipt is the payload for KindReadReceipt.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageDeleted is the payload for KindMessageDeleted.
type MessageDeleted struct {
	ID int64 `json:"id"`
}
