package main

import (
	"net/http"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

type Conversation struct {
	Topic       model.Topic `json:"topic"`
	LastUpdated time.Time   `json:"last_updated"`
	UnreadCount int64       `json:"unread_count"`
}

// ListConversations returns every topic the caller participates in, with
// last activity and unread counts for the sidebar.
func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	query := `SELECT topic, candidate_id, job_id, last_updated FROM user_conversations WHERE user_id = ?`
	iter := a.db.Query(query, claims.UserID).Iter()

	var conversations []Conversation
	var topicKey, candidateID, jobID string
	var lastUpdated time.Time
	for iter.Scan(&topicKey, &candidateID, &jobID, &lastUpdated) {
		c := Conversation{
			Topic:       model.Topic{CandidateID: candidateID, JobID: jobID},
			LastUpdated: lastUpdated,
		}
		var count int64
		if err := a.db.Query(`SELECT unread_count FROM unread_counters WHERE user_id = ? AND topic = ?`,
			claims.UserID, topicKey).Scan(&count); err == nil {
			c.UnreadCount = count
		}
		conversations = append(conversations, c)
	}

	if err := iter.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, conversations)
}
