package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/gorilla/mux"
	"github.com/talentloop/convo/pkg/auth"
	"github.com/talentloop/convo/pkg/model"
	"github.com/talentloop/convo/pkg/snowflake"
)

// History older than this is eligible for compaction; cursors pointing past
// it are stale and pagination must restart from the live head.
const retentionHorizon = 90 * 24 * time.Hour

const messageColumns = `topic, id, sender_id, sender_name, sender_email, sender_role, text,
	reply_to_id, reply_to_text, reply_to_sender,
	attach_url, attach_name, attach_size, attach_mime,
	is_edited, edited_at, correlation_id, timestamp`

type messageRow struct {
	topic         string
	id            int64
	senderID      string
	senderName    string
	senderEmail   string
	senderRole    string
	text          string
	replyToID     int64
	replyToText   string
	replyToSender string
	attachURL     string
	attachName    string
	attachSize    int64
	attachMime    string
	isEdited      bool
	editedAt      time.Time
	correlationID string
	timestamp     time.Time
}

func (r *messageRow) scanDest() []any {
	return []any{
		&r.topic, &r.id, &r.senderID, &r.senderName, &r.senderEmail, &r.senderRole, &r.text,
		&r.replyToID, &r.replyToText, &r.replyToSender,
		&r.attachURL, &r.attachName, &r.attachSize, &r.attachMime,
		&r.isEdited, &r.editedAt, &r.correlationID, &r.timestamp,
	}
}

func (r *messageRow) toMessage(viewerID string) model.Message {
	msg := model.Message{
		ID:   r.id,
		Text: r.text,
		Sender: model.MessageSender{
			ID:            r.senderID,
			Name:          r.senderName,
			Email:         r.senderEmail,
			Role:          r.senderRole,
			IsCurrentUser: r.senderID == viewerID,
		},
		Timestamp:     r.timestamp,
		IsEdited:      r.isEdited,
		CorrelationID: r.correlationID,
	}
	if r.isEdited && !r.editedAt.IsZero() {
		editedAt := r.editedAt
		msg.EditedAt = &editedAt
	}
	if r.replyToID != 0 {
		msg.ReplyTo = &model.ReplyRef{ID: r.replyToID, Text: r.replyToText, SenderName: r.replyToSender}
	}
	if r.attachURL != "" {
		msg.Attachment = &model.Attachment{URL: r.attachURL, Name: r.attachName, Size: r.attachSize, MimeType: r.attachMime}
	}
	return msg
}

type MessagesResponse struct {
	Messages    []model.Message `json:"messages"`
	HasMore     bool            `json:"has_more"`
	UnreadCount int64           `json:"unread_count"`
}

// ListMessages returns one topic page, newest first. The before cursor is a
// message ID; pages from it never include live-synced messages the client
// already holds.
func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	topic := model.Topic{
		CandidateID: mux.Vars(r)["candidateId"],
		JobID:       r.URL.Query().Get("job_id"),
	}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "job_id is required")
		return
	}

	limit := a.cfg.PageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "before must be a message id")
			return
		}
		before = n
	}
	if before > 0 && time.Since(snowflake.Time(before)) > retentionHorizon {
		writeError(w, http.StatusGone, "stale_cursor", "cursor predates retained history; restart from the live head")
		return
	}

	var iter *gocql.Iter
	if before > 0 {
		iter = a.db.Query(`SELECT `+messageColumns+` FROM messages WHERE topic = ? AND id < ? LIMIT ?`,
			topic.Key(), before, limit+1).Iter()
	} else {
		iter = a.db.Query(`SELECT `+messageColumns+` FROM messages WHERE topic = ? LIMIT ?`,
			topic.Key(), limit+1).Iter()
	}

	var messages []model.Message
	var row messageRow
	for iter.Scan(row.scanDest()...) {
		messages = append(messages, row.toMessage(claims.UserID))
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to iterate messages for %s: %v", topic, err)
		http.Error(w, "Failed to retrieve messages", http.StatusInternalServerError)
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	for i := range messages {
		messages[i].Reactions = a.loadGroups(messages[i].ID, claims.UserID)
	}

	var unread int64
	if err := a.db.Query(`SELECT unread_count FROM unread_counters WHERE user_id = ? AND topic = ?`,
		claims.UserID, topic.Key()).Scan(&unread); err != nil && err != gocql.ErrNotFound {
		log.Printf("Failed to read unread count for %s: %v", claims.UserID, err)
	}

	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages, HasMore: hasMore, UnreadCount: unread})
}

type SendMessageRequest struct {
	JobID         string `json:"job_id"`
	Text          string `json:"text"`
	ReplyToID     int64  `json:"reply_to_id,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SendMessage is the message write boundary. The correlation ID the client
// minted rides through storage and the insert event so its reconciler can
// merge the optimistic entry.
func (a *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	topic := model.Topic{CandidateID: mux.Vars(r)["candidateId"], JobID: req.JobID}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "job_id is required")
		return
	}
	if req.Text == "" && req.AttachmentRef == "" {
		writeError(w, http.StatusUnprocessableEntity, "write_rejected", "message needs text or an attachment")
		return
	}

	msg := model.Message{
		ID:   a.ids.Generate(),
		Text: req.Text,
		Sender: model.MessageSender{
			ID:    claims.UserID,
			Name:  claims.Name,
			Email: claims.Email,
			Role:  claims.Role,
		},
		Timestamp:     time.Now().UTC(),
		CorrelationID: req.CorrelationID,
	}

	if req.AttachmentRef != "" {
		att, err := a.resolveAttachment(req.AttachmentRef)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "write_rejected", "unknown attachment reference")
			return
		}
		msg.Attachment = att
	}

	if req.ReplyToID != 0 {
		parent, found := a.messageByID(topic, req.ReplyToID)
		if !found {
			writeError(w, http.StatusUnprocessableEntity, "write_rejected", "reply target does not exist")
			return
		}
		msg.ReplyTo = &model.ReplyRef{ID: parent.ID, Text: snippet(parent.Text), SenderName: parent.Sender.Name}
	}

	if err := a.insertMessage(topic, msg); err != nil {
		log.Printf("Failed to save message %d: %v", msg.ID, err)
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	a.publishEvent(r.Context(), topic, model.KindMessageInserted, msg)

	msg.Sender.IsCurrentUser = true
	writeJSON(w, http.StatusCreated, msg)
}

type EditMessageRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
	Text        string `json:"text"`
}

func (a *API) EditMessage(w http.ResponseWriter, r *http.Request) {
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

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	topic := model.Topic{CandidateID: req.CandidateID, JobID: req.JobID}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id and job_id are required")
		return
	}

	msg, found := a.messageByID(topic, id)
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no such message")
		return
	}
	if !canMutate(claims, msg) {
		writeError(w, http.StatusForbidden, "write_rejected", "only the sender or an admin can edit")
		return
	}

	editedAt := time.Now().UTC()
	err = a.db.Query(`UPDATE messages SET text = ?, is_edited = true, edited_at = ? WHERE topic = ? AND id = ?`,
		req.Text, editedAt, topic.Key(), id).Exec()
	if err != nil {
		log.Printf("Failed to edit message %d: %v", id, err)
		http.Error(w, "Failed to edit message", http.StatusInternalServerError)
		return
	}

	msg.Text = req.Text
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	msg.Reactions = a.loadGroups(id, claims.UserID)

	a.publishEvent(r.Context(), topic, model.KindMessageUpdated, msg)
	writeJSON(w, http.StatusOK, msg)
}

type DeleteMessageRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
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

	var req DeleteMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	topic := model.Topic{CandidateID: req.CandidateID, JobID: req.JobID}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id and job_id are required")
		return
	}

	msg, found := a.messageByID(topic, id)
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no such message")
		return
	}
	if !canMutate(claims, msg) {
		writeError(w, http.StatusForbidden, "write_rejected", "only the sender or an admin can delete")
		return
	}

	if err := a.db.Query(`DELETE FROM messages WHERE topic = ? AND id = ?`, topic.Key(), id).Exec(); err != nil {
		log.Printf("Failed to delete message %d: %v", id, err)
		http.Error(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}
	if err := a.db.Query(`DELETE FROM reactions WHERE message_id = ?`, id).Exec(); err != nil {
		log.Printf("Failed to delete reactions for message %d: %v", id, err)
	}

	a.publishEvent(r.Context(), topic, model.KindMessageDeleted, model.MessageDeleted{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) messageByID(topic model.Topic, id int64) (model.Message, bool) {
	var row messageRow
	err := a.db.Query(`SELECT `+messageColumns+` FROM messages WHERE topic = ? AND id = ?`,
		topic.Key(), id).Scan(row.scanDest()...)
	if err != nil {
		return model.Message{}, false
	}
	return row.toMessage(""), true
}

func (a *API) insertMessage(topic model.Topic, msg model.Message) error {
	var replyID int64
	var replyText, replySender string
	if msg.ReplyTo != nil {
		replyID, replyText, replySender = msg.ReplyTo.ID, msg.ReplyTo.Text, msg.ReplyTo.SenderName
	}
	var attURL, attName, attMime string
	var attSize int64
	if msg.Attachment != nil {
		attURL, attName, attSize, attMime = msg.Attachment.URL, msg.Attachment.Name, msg.Attachment.Size, msg.Attachment.MimeType
	}

	return a.db.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		topic.Key(), msg.ID, msg.Sender.ID, msg.Sender.Name, msg.Sender.Email, msg.Sender.Role, msg.Text,
		replyID, replyText, replySender,
		attURL, attName, attSize, attMime,
		msg.IsEdited, msg.EditedAt, msg.CorrelationID, msg.Timestamp).Exec()
}

func canMutate(claims *auth.Claims, msg model.Message) bool {
	return msg.Sender.ID == claims.UserID || claims.Role == "admin"
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= 120 {
		return text
	}
	return string(runes[:120]) + "…"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
