package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/talentloop/convo/pkg/model"
)

const maxUploadBytes = 32 << 20 // 32MB

type UploadResponse struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// UploadAttachment commits a file upload and returns the reference a later
// send uses. The payload is written to a temp file and renamed into place
// before the metadata row exists, so a failed upload leaves nothing a send
// could reference.
func (a *API) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body")
		return
	}
	topic := model.Topic{
		CandidateID: r.FormValue("candidate_id"),
		JobID:       r.FormValue("job_id"),
	}
	if topic.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate_id and job_id are required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	ref := uuid.NewString()
	finalPath := filepath.Join(a.cfg.AttachmentDir, ref)
	partPath := finalPath + ".part"

	dst, err := os.Create(partPath)
	if err != nil {
		log.Printf("Failed to create attachment file: %v", err)
		http.Error(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(partPath, finalPath)
	}
	if err != nil {
		os.Remove(partPath)
		log.Printf("Failed to write attachment %s: %v", ref, err)
		http.Error(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	url := "/attachments/" + ref

	err = a.db.Query(`INSERT INTO attachments (ref, topic, url, name, size, mime, uploaded_by, uploaded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ref, topic.Key(), url, header.Filename, size, mimeType, claims.UserID, time.Now().UTC()).Exec()
	if err != nil {
		os.Remove(finalPath)
		log.Printf("Failed to record attachment %s: %v", ref, err)
		http.Error(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Ref:  ref,
		URL:  url,
		Name: header.Filename,
		Size: size,
		Type: mimeType,
	})
}

// ServeAttachment streams a committed attachment back.
func (a *API) ServeAttachment(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if _, err := uuid.Parse(ref); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid attachment reference")
		return
	}

	var name, mimeType string
	err := a.db.Query(`SELECT name, mime FROM attachments WHERE ref = ?`, ref).Scan(&name, &mimeType)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such attachment")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
	http.ServeFile(w, r, filepath.Join(a.cfg.AttachmentDir, ref))
}

func (a *API) resolveAttachment(ref string) (*model.Attachment, error) {
	var att model.Attachment
	err := a.db.Query(`SELECT url, name, size, mime FROM attachments WHERE ref = ?`, ref).
		Scan(&att.URL, &att.Name, &att.Size, &att.MimeType)
	if err != nil {
		return nil, err
	}
	return &att, nil
}
