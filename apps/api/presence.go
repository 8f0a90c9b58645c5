package main

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/talentloop/convo/pkg/model"
)

// OnlineUsers lists the users currently connected to a topic, backed by the
// Redis set the gateways maintain on register/unregister.
func (a *API) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	topic := model.Topic{CandidateID: vars["candidateId"], JobID: vars["jobId"]}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate and job are required")
		return
	}

	users, err := a.redis.SMembers(r.Context(), "topic:"+topic.Key()+":users").Result()
	if err != nil {
		log.Printf("Failed to fetch presence for topic %s: %v", topic, err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, users)
}
