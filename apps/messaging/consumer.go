package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/talentloop/convo/pkg/db"
	"github.com/talentloop/convo/pkg/model"
)

// Consumer maintains derived conversation state from the change-event
// stream: the per-user conversation index, topic participant sets and
// unread counters. The API service owns the primary message writes.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var ev model.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			log.Printf("Failed to unmarshal event: %v", err)
			continue
		}

		switch ev.Kind {
		case model.KindMessageInserted:
			c.handleInserted(ev)
		case model.KindReadReceipt:
			c.handleReadReceipt(ev)
		default:
			// Typing, reactions, edits and deletes do not move unread
			// counters or conversation ordering.
		}
	}
}

func (c *Consumer) handleInserted(ev model.Event) {
	var msg model.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		log.Printf("Failed to unmarshal inserted message: %v", err)
		return
	}

	topicKey := ev.Topic.Key()
	sender := msg.Sender.ID

	// The sender is a participant of this topic from now on.
	q := `INSERT INTO topic_participants (topic, user_id, last_seen) VALUES (?, ?, ?)`
	if err := c.db.Query(q, topicKey, sender, msg.Timestamp).Exec(); err != nil {
		log.Printf("Failed to record participant %s: %v", sender, err)
	}

	// Refresh the conversation index and bump unread for everyone else.
	iter := c.db.Query(`SELECT user_id FROM topic_participants WHERE topic = ?`, topicKey).Iter()
	var userID string
	var participants []string
	for iter.Scan(&userID) {
		participants = append(participants, userID)
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to list participants for %s: %v", topicKey, err)
		return
	}

	for _, uid := range participants {
		q := `INSERT INTO user_conversations (user_id, topic, candidate_id, job_id, last_updated) VALUES (?, ?, ?, ?, ?)`
		if err := c.db.Query(q, uid, topicKey, ev.Topic.CandidateID, ev.Topic.JobID, msg.Timestamp).Exec(); err != nil {
			log.Printf("Failed to update conversation for %s: %v", uid, err)
		}

		if uid == sender {
			continue
		}
		qCounter := `UPDATE unread_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND topic = ?`
		if err := c.db.Query(qCounter, uid, topicKey).Exec(); err != nil {
			log.Printf("Failed to increment unread count for %s: %v", uid, err)
		}
	}
}

func (c *Consumer) handleReadReceipt(ev model.Event) {
	var receipt model.ReadReceipt
	if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
		log.Printf("Failed to unmarshal read receipt: %v", err)
		return
	}

	// Readers count as participants even before their first message.
	q := `INSERT INTO topic_participants (topic, user_id, last_seen) VALUES (?, ?, ?)`
	if err := c.db.Query(q, ev.Topic.Key(), receipt.UserID, receipt.ReadAt).Exec(); err != nil {
		log.Printf("Failed to record reader %s: %v", receipt.UserID, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
