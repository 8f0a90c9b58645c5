package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

type MarkReadRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

// MarkRead resets the caller's unread counter for a topic and broadcasts a
// read receipt so other viewers (and the caller's other devices) converge.
func (a *API) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	topic := model.Topic{CandidateID: req.CandidateID, JobID: req.JobID}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id and job_id are required")
		return
	}

	// Deleting the counter row is how ScyllaDB counters reset to zero.
	query := `DELETE FROM unread_counters WHERE user_id = ? AND topic = ?`
	if err := a.db.Query(query, claims.UserID, topic.Key()).Exec(); err != nil {
		http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
		return
	}

	a.publishEvent(r.Context(), topic, model.KindReadReceipt, model.ReadReceipt{
		UserID: claims.UserID,
		ReadAt: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusOK)
}
