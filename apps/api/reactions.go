package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/reactions"
)

type ReactionRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
	Emoji       string `json:"emoji"`
}

// AddReaction records a (user, emoji) reaction. Adding one that already
// exists is a no-op and publishes nothing, so subscribers never see no-op
// deltas.
func (a *API) AddReaction(w http.ResponseWriter, r *http.Request) {
	a.changeReaction(w, r, model.ReactionAdded)
}

// RemoveReaction drops a (user, emoji) reaction. Removing a non-member is a
// no-op, not an error.
func (a *API) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	a.changeReaction(w, r, model.ReactionRemoved)
}

func (a *API) changeReaction(w http.ResponseWriter, r *http.Request, op model.ReactionOp) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "emoji is required")
		return
	}
	topic := model.Topic{CandidateID: req.CandidateID, JobID: req.JobID}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id and job_id are required")
		return
	}

	if _, found := a.messageByID(topic, id); !found {
		writeError(w, http.StatusNotFound, "not_found", "no such message")
		return
	}

	changed, err := a.applyReaction(op, id, claims.UserID, req.Emoji, topic)
	if err != nil {
		log.Printf("Failed to %s reaction on %d: %v", op, id, err)
		http.Error(w, "Failed to update reaction", http.StatusInternalServerError)
		return
	}

	groups := a.loadGroups(id, claims.UserID)
	if changed {
		a.publishEvent(r.Context(), topic, model.KindReactionChanged, model.ReactionDelta{
			MessageID: id,
			Emoji:     req.Emoji,
			UserID:    claims.UserID,
			Op:        op,
			Groups:    groups,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "reactions": groups})
}

func (a *API) applyReaction(op model.ReactionOp, messageID int64, userID, emoji string, topic model.Topic) (bool, error) {
	var existing string
	err := a.db.Query(`SELECT user_id FROM reactions WHERE message_id = ? AND emoji = ? AND user_id = ?`,
		messageID, emoji, userID).Scan(&existing)
	present := err == nil

	switch op {
	case model.ReactionAdded:
		if present {
			return false, nil
		}
		err := a.db.Query(`INSERT INTO reactions (message_id, emoji, user_id, topic, reacted_at) VALUES (?, ?, ?, ?, ?)`,
			messageID, emoji, userID, topic.Key(), time.Now().UTC()).Exec()
		return err == nil, err
	case model.ReactionRemoved:
		if !present {
			return false, nil
		}
		err := a.db.Query(`DELETE FROM reactions WHERE message_id = ? AND emoji = ? AND user_id = ?`,
			messageID, emoji, userID).Exec()
		return err == nil, err
	}
	return false, nil
}

// loadGroups rebuilds the aggregate reaction view for one message from its
// stored rows.
func (a *API) loadGroups(messageID int64, viewerID string) []model.MessageReaction {
	agg := reactions.NewAggregator()

	iter := a.db.Query(`SELECT emoji, user_id FROM reactions WHERE message_id = ?`, messageID).Iter()
	var emoji, userID string
	for iter.Scan(&emoji, &userID) {
		agg.Add(messageID, userID, emoji)
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to load reactions for %d: %v", messageID, err)
	}

	return agg.Groups(messageID, viewerID)
}
