package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/talentloop/convo/pkg/model"
)

// REST talks to the write boundary: every send, edit, delete, reaction and
// upload goes through here, never over the WebSocket.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewREST(baseURL string) *REST {
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *REST) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the JWT for authenticated requests.
func (c *REST) SetToken(token string) {
	c.token = token
}

// Login mints a dev token. Production callers get theirs from the platform
// session service instead.
func (c *REST) Login(ctx context.Context, userID, name, email, role string) (string, error) {
	body := map[string]string{"user_id": userID, "name": name, "email": email, "role": role}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// MessagesPage is one page of topic history.
type MessagesPage struct {
	Messages    []model.Message `json:"messages"`
	HasMore     bool            `json:"has_more"`
	UnreadCount int64           `json:"unread_count"`
}

// ListMessages fetches one page, newest first. before is a message ID
// cursor; zero means the live head.
func (c *REST) ListMessages(ctx context.Context, topic model.Topic, limit int, before int64) (*MessagesPage, error) {
	path := fmt.Sprintf("/conversations/%s/messages?job_id=%s&limit=%d",
		url.PathEscape(topic.CandidateID), url.QueryEscape(topic.JobID), limit)
	if before > 0 {
		path += fmt.Sprintf("&before=%d", before)
	}

	var page MessagesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendRequest is the message-send body. CorrelationID is minted by the
// reconciler and echoed back on the insert event.
type SendRequest struct {
	JobID         string `json:"job_id"`
	Text          string `json:"text"`
	ReplyToID     int64  `json:"reply_to_id,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (c *REST) SendMessage(ctx context.Context, topic model.Topic, req SendRequest) (*model.Message, error) {
	req.JobID = topic.JobID
	path := "/conversations/" + url.PathEscape(topic.CandidateID) + "/messages"

	var msg model.Message
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *REST) EditMessage(ctx context.Context, topic model.Topic, id int64, text string) (*model.Message, error) {
	body := map[string]string{"candidate_id": topic.CandidateID, "job_id": topic.JobID, "text": text}
	var msg model.Message
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/messages/%d", id), body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *REST) DeleteMessage(ctx context.Context, topic model.Topic, id int64) error {
	body := map[string]string{"candidate_id": topic.CandidateID, "job_id": topic.JobID}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", id), body, nil)
}

func (c *REST) AddReaction(ctx context.Context, topic model.Topic, id int64, emoji string) error {
	body := map[string]string{"candidate_id": topic.CandidateID, "job_id": topic.JobID, "emoji": emoji}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/messages/%d/reactions", id), body, nil)
}

func (c *REST) RemoveReaction(ctx context.Context, topic model.Topic, id int64, emoji string) error {
	body := map[string]string{"candidate_id": topic.CandidateID, "job_id": topic.JobID, "emoji": emoji}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d/reactions", id), body, nil)
}

func (c *REST) MarkRead(ctx context.Context, topic model.Topic) error {
	body := map[string]string{"candidate_id": topic.CandidateID, "job_id": topic.JobID}
	return c.do(ctx, http.MethodPost, "/messages/mark-read", body, nil)
}

// UploadResult is a committed attachment. Ref goes into a later send;
// nothing references an upload that failed partway.
type UploadResult struct {
	Ref  string `json:"ref"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Upload streams a file to the attachment pipeline, scoped to topic.
func (c *REST) Upload(ctx context.Context, topic model.Topic, name, mimeType string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("candidate_id", topic.CandidateID); err != nil {
		return nil, WrapError(ErrorSerialization, "build multipart form", err)
	}
	if err := mw.WriteField("job_id", topic.JobID); err != nil {
		return nil, WrapError(ErrorSerialization, "build multipart form", err)
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "build multipart form", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, WrapError(ErrorTransport, "read upload payload", err)
	}
	if err := mw.Close(); err != nil {
		return nil, WrapError(ErrorSerialization, "finish multipart form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attachments", &buf)
	if err != nil {
		return nil, WrapError(ErrorTransport, "build upload request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, WrapError(ErrorTransport, "upload attachment", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.apiError(resp)
	}
	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(ErrorSerialization, "decode upload response", err)
	}
	return &result, nil
}

func (c *REST) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return WrapError(ErrorSerialization, "encode request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return WrapError(ErrorTransport, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WrapError(ErrorTransport, method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(ErrorSerialization, "decode response", err)
	}
	return nil
}

func (c *REST) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *REST) apiError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}
	return NewError(codeFromAPI(resp.StatusCode, body.Error), msg)
}
